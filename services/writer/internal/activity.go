package internal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forge-ai/replywriter/shared/events"
)

// publishTimeout bounds a single sink publish.
const publishTimeout = 2 * time.Second

// Sink receives wrapped event envelopes. *mq.Broker and *Hub satisfy it.
type Sink interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Activity fans generation events out to every configured sink. Sink
// failures are logged and never reach the HTTP caller.
type Activity struct {
	sinks []Sink
}

func NewActivity(sinks ...Sink) *Activity {
	a := &Activity{}
	for _, s := range sinks {
		if s != nil {
			a.sinks = append(a.sinks, s)
		}
	}
	return a
}

func (a *Activity) Emit(ctx context.Context, routingKey string, payload any) {
	if a == nil || len(a.sinks) == 0 {
		return
	}
	b, err := events.Wrap(routingKey, payload)
	if err != nil {
		log.Error().Err(err).Str("key", routingKey).Msg("wrap event")
		return
	}

	// The request may already be done; publishing should still finish.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, s := range a.sinks {
		if err := s.Publish(ctx, routingKey, b); err != nil {
			log.Warn().Err(err).Str("key", routingKey).Msg("publish event")
		}
	}
}
