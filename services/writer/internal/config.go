package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMissingConfig is returned by Validate when a required setting is empty.
var ErrMissingConfig = errors.New("missing required config")

type Config struct {
	GeminiAPIURL    string
	GeminiAPIKey    string
	APIPort         string
	ProviderTimeout time.Duration
	AMQPURL         string
	AMQPAttempts    int
	MetricsEnabled  bool

	// envErr holds values ConfigFromEnv could not parse.
	envErr error
}

// ConfigFromEnv reads settings from the environment. Malformed values fall
// back to their defaults and are reported by Validate.
func ConfigFromEnv() Config {
	var errs []error
	cfg := Config{
		GeminiAPIURL:    env("GEMINI_API_URL", ""),
		GeminiAPIKey:    env("GEMINI_API_KEY", ""),
		APIPort:         env("API_PORT", "8080"),
		ProviderTimeout: envDuration("PROVIDER_TIMEOUT", 30*time.Second, &errs),
		AMQPURL:         env("AMQP_URL", ""),
		AMQPAttempts:    envInt("AMQP_CONNECT_ATTEMPTS", 10, &errs),
		MetricsEnabled:  envBool("METRICS_ENABLED", true, &errs),
	}
	cfg.envErr = errors.Join(errs...)
	return cfg
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if c.envErr != nil {
		return c.envErr
	}
	if c.GeminiAPIURL == "" {
		return fmt.Errorf("%w: GEMINI_API_URL", ErrMissingConfig)
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingConfig)
	}
	if c.APIPort == "" {
		return fmt.Errorf("%w: API_PORT", ErrMissingConfig)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return badEnv(k, v, def, errs)
	}
	if n <= 0 {
		return def
	}
	return n
}

// envDuration accepts Go durations ("45s", "1m30s").
func envDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return badEnv(k, v, def, errs)
	}
	return d
}

func envBool(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return badEnv(k, v, def, errs)
	}
	return b
}

func badEnv[T any](k, v string, def T, errs *[]error) T {
	log.Warn().Str("key", k).Str("value", v).Interface("default", def).Msg("malformed config value")
	*errs = append(*errs, fmt.Errorf("%s: cannot parse %q", k, v))
	return def
}
