package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// maxResponseBytes caps how much of a provider body is read.
const maxResponseBytes = 4 << 20

var (
	ErrProviderTimeout = errors.New("provider timed out")
	ErrProviderStatus  = errors.New("provider returned status")

	// errCallDeadline is the cause attached to the per-call timeout so it
	// can be told apart from a deadline on the caller's context.
	errCallDeadline = errors.New("provider call deadline")
)

// Result is the outcome of a generation that reached the provider.
type Result struct {
	Text string
	// ParseError marks Text as the in-band "Error processing request: ..."
	// message rather than provider output.
	ParseError  bool
	PromptChars int
}

// Generator turns an EmailRequest into reply text via the provider.
type Generator struct {
	endpoint string
	timeout  time.Duration
	codec    Codec
	client   *http.Client
	metrics  *Metrics
}

// NewGenerator builds a Generator. client may be nil, in which case a fresh
// pooled client is used; metrics may be nil.
func NewGenerator(cfg Config, codec Codec, client *http.Client, metrics *Metrics) *Generator {
	if client == nil {
		client = &http.Client{}
	}
	return &Generator{
		endpoint: cfg.GeminiAPIURL + cfg.GeminiAPIKey,
		timeout:  cfg.ProviderTimeout,
		codec:    codec,
		client:   client,
		metrics:  metrics,
	}
}

// Provider names the wire format in use.
func (g *Generator) Provider() string { return g.codec.Name() }

// GenerateEmail calls the provider once. Transport failures (network,
// non-2xx, timeout) are returned as errors. An unreadable response envelope
// is not an error: the Result carries "Error processing request: <details>"
// with ParseError set.
func (g *Generator) GenerateEmail(ctx context.Context, req EmailRequest) (Result, error) {
	reqID := RequestIDFromContext(ctx)

	prompt := BuildPrompt(req)
	log.Debug().Str("request_id", reqID).Int("prompt_chars", len(prompt)).Msg("prompt built")

	start := time.Now()
	raw, err := g.call(ctx, prompt)
	g.metrics.observeLatency(g.codec.Name(), time.Since(start))
	if err != nil {
		g.metrics.countProvider(g.codec.Name(), outcomeFor(err))
		return Result{PromptChars: len(prompt)}, err
	}
	log.Info().Str("request_id", reqID).Int("bytes", len(raw)).Msg("response received from provider")

	text, err := g.codec.Decode(raw)
	if err != nil {
		log.Error().Err(err).Str("request_id", reqID).Msg("error processing provider response")
		g.metrics.countProvider(g.codec.Name(), outcomeParseError)
		return Result{
			Text:        "Error processing request: " + err.Error(),
			ParseError:  true,
			PromptChars: len(prompt),
		}, nil
	}

	g.metrics.countProvider(g.codec.Name(), outcomeOK)
	return Result{Text: text, PromptChars: len(prompt)}, nil
}

func (g *Generator) call(ctx context.Context, prompt string) ([]byte, error) {
	body, err := g.codec.Encode(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, g.timeout, errCallDeadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		// The endpoint embeds the key; keep it out of the message.
		return nil, fmt.Errorf("%s request: invalid endpoint", g.codec.Name())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, g.transportErr(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, g.transportErr(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w %d: %s", ErrProviderStatus, resp.StatusCode, truncate(raw, 512))
	}
	return raw, nil
}

// transportErr classifies a failed round trip. Only the deadline set by
// call counts as a timeout; a caller cancelling or its own deadline
// expiring is a plain failure.
func (g *Generator) transportErr(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errCallDeadline) {
		return fmt.Errorf("%w after %s", ErrProviderTimeout, g.timeout)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// url.Error prints the full URL, which contains the key.
		err = urlErr.Err
	}
	return fmt.Errorf("%s request: %w", g.codec.Name(), err)
}

// truncate cuts b to at most n bytes without splitting a UTF-8 sequence.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]) + "..."
}
