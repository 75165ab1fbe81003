package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/forge-ai/replywriter/shared/mq"
)

// Writer owns the HTTP API, the generator and the activity feed.
type Writer struct {
	cfg      Config
	gen      *Generator
	hub      *Hub
	activity *Activity
	metrics  *Metrics
	broker   *mq.Broker
}

// NewWriter wires a Writer from cfg. RabbitMQ is only dialled when
// cfg.AMQPURL is set.
func NewWriter(cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var metrics *Metrics
	if cfg.MetricsEnabled {
		metrics = NewMetrics()
	}

	hub := NewHub()
	sinks := []Sink{hub}

	var broker *mq.Broker
	if cfg.AMQPURL != "" {
		b, err := mq.New(cfg.AMQPURL, cfg.AMQPAttempts)
		if err != nil {
			return nil, fmt.Errorf("mq connect: %w", err)
		}
		broker = b
		sinks = append(sinks, broker)
	}

	return &Writer{
		cfg:      cfg,
		gen:      NewGenerator(cfg, GeminiCodec{}, &http.Client{}, metrics),
		hub:      hub,
		activity: NewActivity(sinks...),
		metrics:  metrics,
		broker:   broker,
	}, nil
}

func (w *Writer) Close() {
	if w.broker != nil {
		w.broker.Close()
	}
}

// Run serves the API and the activity hub until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.hub.Run(ctx) })
	g.Go(func() error { return w.serveAPI(ctx) })

	log.Info().
		Str("api_port", w.cfg.APIPort).
		Str("provider", w.gen.Provider()).
		Dur("provider_timeout", w.cfg.ProviderTimeout).
		Bool("amqp", w.broker != nil).
		Bool("metrics", w.metrics != nil).
		Msg("writer online")

	return g.Wait()
}
