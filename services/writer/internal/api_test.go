package internal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/replywriter/shared/events"
)

type apiHarness struct {
	writer *Writer
	server *httptest.Server
}

func newAPIHarness(t *testing.T, providerURL string) *apiHarness {
	t.Helper()
	w, err := NewWriter(testConfig(providerURL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.hub.Run(ctx)

	srv := httptest.NewServer(w.Routes())
	t.Cleanup(func() {
		cancel()
		srv.Close()
		w.Close()
	})
	return &apiHarness{writer: w, server: srv}
}

func (h *apiHarness) post(t *testing.T, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(h.server.URL+"/api/email/generate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestGenerateEndToEnd(t *testing.T) {
	stub := &stubProvider{body: candidateBody("Dear Sender, thank you for reaching out.")}
	provider := httptest.NewServer(stub)
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	resp, body := h.post(t, `{"emailContent":"Can we reschedule?","tone":"formal"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dear Sender, thank you for reaching out.", body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get(parseErrorHeader))
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	_, _, prompt := stub.captured()
	assert.Contains(t, prompt, "Use a formal tone.")
	assert.True(t, strings.HasSuffix(prompt, "Original email content: \nCan we reschedule?"))
}

func TestGenerateNullToneMeansNoTone(t *testing.T) {
	stub := &stubProvider{body: candidateBody("ok")}
	provider := httptest.NewServer(stub)
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	resp, _ := h.post(t, `{"emailContent":"hello","tone":null}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, _, prompt := stub.captured()
	assert.NotContains(t, prompt, "tone.")
}

func TestGenerateTransportFailureIs400(t *testing.T) {
	provider := httptest.NewServer(http.NotFoundHandler())
	providerURL := provider.URL
	provider.Close()
	h := newAPIHarness(t, providerURL)

	resp, body := h.post(t, `{"emailContent":"Can we reschedule?","tone":"formal"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, "Error generating email:"), body)
	assert.NotContains(t, body, testAPIKey)

	// The server keeps serving after a failure.
	resp, _ = h.post(t, `{"emailContent":"again"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateProviderStatusIs400(t *testing.T) {
	provider := httptest.NewServer(&stubProvider{status: http.StatusInternalServerError, body: "boom"})
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	resp, body := h.post(t, `{"emailContent":"x"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, "Error generating email: provider returned status 500"), body)
}

func TestGenerateParseFailureIs200WithFlag(t *testing.T) {
	provider := httptest.NewServer(&stubProvider{body: `{}`})
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	resp, body := h.post(t, `{"emailContent":"x"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, "Error processing request:"), body)
	assert.Equal(t, "true", resp.Header.Get(parseErrorHeader))
}

func TestGenerateRejectsUndecodableBody(t *testing.T) {
	stub := &stubProvider{body: candidateBody("unused")}
	provider := httptest.NewServer(stub)
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	for _, body := range []string{``, `{"emailContent":`, `{"emailContent": 42}`} {
		resp, got := h.post(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.True(t, strings.HasPrefix(got, "Invalid request body:"), got)
	}
	_, _, prompt := stub.captured()
	assert.Empty(t, prompt, "provider must not be called")
}

func TestCORSPreflight(t *testing.T) {
	h := newAPIHarness(t, "http://127.0.0.1:1")

	req, err := http.NewRequest(http.MethodOptions, h.server.URL+"/api/email/generate", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://mail.google.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestRequestIDIsEchoed(t *testing.T) {
	provider := httptest.NewServer(&stubProvider{body: candidateBody("ok")})
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/email/generate", strings.NewReader(`{"emailContent":"x"}`))
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestStatusAndMetrics(t *testing.T) {
	provider := httptest.NewServer(&stubProvider{body: candidateBody("ok")})
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	h.post(t, `{"emailContent":"x"}`)

	resp, err := http.Get(h.server.URL + "/api/status")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"online","provider":"gemini","ws_clients":0,"amqp":false,"timeout_sec":2}`, string(b))

	resp, err = http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(b), `replywriter_provider_requests_total{outcome="ok",provider="gemini"} 1`)
	assert.Contains(t, string(b), `replywriter_requests_total{method="POST",path="/api/email/generate",status="2xx"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MetricsEnabled = false
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(w.Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivityFeedOverWebSocket(t *testing.T) {
	provider := httptest.NewServer(&stubProvider{body: candidateBody("Dear Sender")})
	t.Cleanup(provider.Close)
	h := newAPIHarness(t, provider.URL)

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.writer.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	h.post(t, `{"emailContent":"Can we reschedule?","tone":"formal"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	env, err := events.UnwrapEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, events.ReplyGenerated, env.RoutingKey)

	p, err := events.Unwrap[events.ReplyGeneratedPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, "formal", p.Tone)
	assert.Equal(t, len("Dear Sender"), p.ReplyChars)
	assert.NotEmpty(t, p.RequestID)
	assert.NotContains(t, string(msg), "Can we reschedule?", "events must not carry email content")
}

func TestActivityFeedReportsFailure(t *testing.T) {
	h := newAPIHarness(t, "http://127.0.0.1:1")

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.writer.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	h.post(t, `{"emailContent":"x"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	p, err := events.Unwrap[events.ReplyFailedPayload](msg)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Error)
	assert.False(t, p.Timeout)
}

func TestRecoveryKeepsServing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(withRequestID(withRecovery(mux)))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/panic")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ok")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
