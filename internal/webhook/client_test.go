package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type record struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

func TestWebhookSend(t *testing.T) {
	secret := "my-secret"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get(SignatureHeader))

		body, _ := io.ReadAll(r.Body)
		var p struct {
			Timestamp int64    `json:"timestamp"`
			Records   []record `json:"records"`
		}
		err := json.Unmarshal(body, &p)
		assert.NoError(t, err)
		assert.Len(t, p.Records, 1)
		assert.Equal(t, "0xabc", p.Records[0].TxHash)
		assert.NotZero(t, p.Timestamp)

		assert.True(t, Verify([]byte(secret), body, r.Header.Get(SignatureHeader)))

		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, Secret: secret})
	err := client.Send(context.Background(), []record{{TxHash: "0xabc", Status: "processed"}})
	assert.NoError(t, err)
}

func TestWebhookSend_NoSecretNoSignature(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL})
	assert.NoError(t, client.Send(context.Background(), []record{{TxHash: "0x1"}}))
}

func TestWebhook_Retry(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(Config{
		URL:            ts.URL,
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})

	err := client.Send(context.Background(), []record{{TxHash: "0x1"}})
	assert.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond})
	err := client.Send(context.Background(), []record{{TxHash: "0x1"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestWebhook_ExhaustsAttempts(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	err := client.Send(context.Background(), []record{{TxHash: "0x1"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestWebhook_ContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Send(ctx, []record{{TxHash: "0x1"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSignVerify(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"txs":[]}`)
	sig := Sign(secret, body)

	assert.Len(t, sig, 64)
	assert.True(t, Verify(secret, body, sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify(secret, []byte(`{"txs":[1]}`), sig))
	assert.False(t, Verify(secret, body, "not-hex"))
	assert.False(t, Verify(secret, body, ""))
}
