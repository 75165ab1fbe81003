package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forge-ai/replywriter/shared/events"
)

// parseErrorHeader flags a 200 whose body is the in-band
// "Error processing request: ..." text.
const parseErrorHeader = "X-Reply-Parse-Error"

// Routes returns the full HTTP handler, middleware included.
func (w *Writer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/email/generate", w.metrics.Middleware("/api/email/generate", http.HandlerFunc(w.handleGenerate)))
	mux.Handle("GET /api/status", w.metrics.Middleware("/api/status", http.HandlerFunc(w.handleStatus)))
	mux.HandleFunc("/ws", w.hub.ServeWS)
	if w.metrics != nil {
		mux.Handle("GET /metrics", w.metrics.Handler())
	}

	return cors(withRequestID(withRecovery(mux)))
}

func (w *Writer) serveAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + w.cfg.APIPort,
		Handler:           w.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		// Writes must outlast the provider call.
		WriteTimeout: w.cfg.ProviderTimeout + 15*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Writer) handleGenerate(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := RequestIDFromContext(ctx)

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Str("request_id", reqID).Msg("invalid request body")
		textResp(rw, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	log.Info().
		Str("request_id", reqID).
		Str("tone", req.Tone).
		Int("content_chars", len(req.EmailContent)).
		Msg("received email generation request")

	start := time.Now()
	res, err := w.gen.GenerateEmail(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().Err(err).Str("request_id", reqID).Dur("duration", elapsed).Msg("error generating email")
		w.activity.Emit(ctx, events.ReplyFailed, events.ReplyFailedPayload{
			RequestID:  reqID,
			Tone:       req.Tone,
			Error:      err.Error(),
			Timeout:    errors.Is(err, ErrProviderTimeout),
			DurationMS: elapsed.Milliseconds(),
		})
		textResp(rw, "Error generating email: "+err.Error(), http.StatusBadRequest)
		return
	}

	log.Info().
		Str("request_id", reqID).
		Bool("parse_error", res.ParseError).
		Int("reply_chars", len(res.Text)).
		Dur("duration", elapsed).
		Msg("email generation successful")
	w.activity.Emit(ctx, events.ReplyGenerated, events.ReplyGeneratedPayload{
		RequestID:   reqID,
		Tone:        req.Tone,
		PromptChars: res.PromptChars,
		ReplyChars:  len(res.Text),
		DurationMS:  elapsed.Milliseconds(),
		ParseError:  res.ParseError,
	})

	if res.ParseError {
		rw.Header().Set(parseErrorHeader, "true")
	}
	textResp(rw, res.Text, http.StatusOK)
}

func (w *Writer) handleStatus(rw http.ResponseWriter, r *http.Request) {
	jsonOK(rw, map[string]any{
		"status":      "online",
		"provider":    w.gen.Provider(),
		"ws_clients":  w.hub.Clients(),
		"amqp":        w.broker.Alive(),
		"timeout_sec": w.cfg.ProviderTimeout.Seconds(),
	}, http.StatusOK)
}

func textResp(w http.ResponseWriter, body string, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func jsonOK(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
