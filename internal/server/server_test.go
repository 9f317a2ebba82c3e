package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/84hero/burn-notifier/internal/pipeline"
	"github.com/84hero/burn-notifier/internal/webhook"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, events []pipeline.RawTransferEvent) *pipeline.Report {
	return m.Called(ctx, events).Get(0).(*pipeline.Report)
}

func newTestServer(proc Processor, secret string) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, proc, Config{Addr: ":0", WebhookSecret: secret})
}

func post(s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhook_Processed(t *testing.T) {
	proc := new(MockProcessor)
	expected := []pipeline.RawTransferEvent{
		{Hash: "0xaaa", Input: "0xa9059cbb"},
		{Hash: "0xbbb", Input: "0xdeadbeef"},
	}
	proc.On("Process", mock.Anything, expected).Return(&pipeline.Report{Outcomes: []pipeline.Outcome{
		{Hash: "0xaaa", Status: pipeline.StatusProcessed},
		{Hash: "0xbbb", Status: pipeline.StatusFailed, Err: errors.New("bad calldata")},
	}}).Once()

	s := newTestServer(proc, "")
	rec := post(s, `{"txs":[{"hash":"0xaaa","input":"0xa9059cbb"},{"hash":"0xbbb","input":"0xdeadbeef"}]}`, nil)

	// Per-event failures do not fail the request
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "processed", body["status"])
	assert.Equal(t, float64(1), body["processed"])
	assert.Equal(t, float64(1), body["failed"])
	proc.AssertExpectations(t)
}

func TestWebhook_EmptyBatch(t *testing.T) {
	proc := new(MockProcessor)
	proc.On("Process", mock.Anything, []pipeline.RawTransferEvent{}).Return(&pipeline.Report{}).Once()

	s := newTestServer(proc, "")
	rec := post(s, `{"txs":[]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processed", decodeBody(t, rec)["status"])
}

func TestWebhook_MalformedBody(t *testing.T) {
	cases := map[string]string{
		"invalid json": `{"txs":[`,
		"missing txs":  `{"transactions":[]}`,
		"txs not list": `{"txs":"0xaaa"}`,
		"missing hash": `{"txs":[{"input":"0x"}]}`,
		"empty body":   ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			proc := new(MockProcessor)
			s := newTestServer(proc, "")
			rec := post(s, body, nil)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
			proc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhook_Signature(t *testing.T) {
	body := `{"txs":[{"hash":"0xaaa","input":"0x"}]}`
	proc := new(MockProcessor)
	proc.On("Process", mock.Anything, mock.Anything).Return(&pipeline.Report{}).Once()

	s := newTestServer(proc, "hook-secret")

	rec := post(s, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(s, body, map[string]string{webhook.SignatureHeader: webhook.Sign([]byte("wrong"), []byte(body))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(s, body, map[string]string{webhook.SignatureHeader: webhook.Sign([]byte("hook-secret"), []byte(body))})
	assert.Equal(t, http.StatusOK, rec.Code)
	proc.AssertNumberOfCalls(t, "Process", 1)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(new(MockProcessor), "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	s := newTestServer(new(MockProcessor), "")
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseBatch(t *testing.T) {
	events, err := ParseBatch([]byte(`{"txs":[{"hash":"0x1","input":"0xa9059cbb"}],"extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, []pipeline.RawTransferEvent{{Hash: "0x1", Input: "0xa9059cbb"}}, events)

	_, err = ParseBatch([]byte(`null`))
	var fmtErr *BatchFormatError
	require.True(t, errors.As(err, &fmtErr))
	assert.Equal(t, "missing txs", fmtErr.Reason)
}
