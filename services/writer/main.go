// writer serves POST /api/email/generate: it turns an email and an optional
// tone into a prompt, asks the Gemini generateContent API for a reply and
// returns the reply text.
//
// It also:
//   - Relays reply.generated / reply.failed activity to /ws clients
//   - Publishes the same events to RabbitMQ when AMQP_URL is set
//   - Exposes Prometheus metrics on /metrics
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forge-ai/replywriter/services/writer/internal"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	_ = godotenv.Load()

	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := internal.ConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info().Msg("shutdown signal, stopping writer")
		cancel()
	}()

	w, err := internal.NewWriter(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start writer")
	}
	defer w.Close()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("writer exited")
	}
}
