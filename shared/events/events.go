// Package events defines the activity messages emitted by the writer.
// Payloads describe a generation, never the email or the reply itself.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ── Routing keys (topic exchange: replywriter.events) ────────────────────────
const (
	ReplyGenerated = "reply.generated"
	ReplyFailed    = "reply.failed"

	// AllReplies matches every reply.* routing key.
	AllReplies = "reply.*"
)

// ── Envelope wraps every message ─────────────────────────────────────────────

type Envelope struct {
	ID         string          `json:"id"`
	RoutingKey string          `json:"routing_key"`
	Timestamp  time.Time       `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func Wrap(routingKey string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		ID:         uuid.New().String(),
		RoutingKey: routingKey,
		Timestamp:  time.Now().UTC(),
		Payload:    p,
	})
}

func Unwrap[T any](raw []byte) (*T, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var t T
	return &t, json.Unmarshal(env.Payload, &t)
}

func UnwrapEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	return &env, json.Unmarshal(raw, &env)
}

// ── Payload types ─────────────────────────────────────────────────────────────

type ReplyGeneratedPayload struct {
	RequestID   string `json:"request_id"`
	Tone        string `json:"tone,omitempty"`
	PromptChars int    `json:"prompt_chars"`
	ReplyChars  int    `json:"reply_chars"`
	DurationMS  int64  `json:"duration_ms"`
	// ParseError is set when the provider answered but its envelope could
	// not be read; the reply then carries the in-band error text.
	ParseError bool `json:"parse_error,omitempty"`
}

type ReplyFailedPayload struct {
	RequestID  string `json:"request_id"`
	Tone       string `json:"tone,omitempty"`
	Error      string `json:"error"`
	Timeout    bool   `json:"timeout,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}
