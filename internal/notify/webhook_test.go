package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/slot-reservations/internal/events"
	"github.com/noah-isme/slot-reservations/internal/notify"
	"github.com/noah-isme/slot-reservations/internal/resilience"
)

func testEvent() events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicBookingConfirmed,
		AggregateID: "ref-1",
		Payload:     json.RawMessage(`{"refId":"ref-1","email":"a@x.com","qty":2}`),
		OccurredAt:  time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC),
	}
}

func httpClient(srv *httptest.Server) resilience.HTTPClient {
	return resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{URL: srv.URL, Secret: "secret", HTTP: httpClient(srv)}
	ev := testEvent()

	status, err := hook.Deliver(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	record := <-received
	req := record.req
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, ev.ID.String(), req.Header.Get("X-Event-ID"))
	require.Equal(t, ev.ID.String(), req.Header.Get("X-Idempotency-Key"))
	ts, err := strconv.ParseInt(req.Header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("secret", ts, ev.ID.String(), record.body), req.Header.Get("X-Signature"))

	var envelope struct {
		EventID string          `json:"eventId"`
		Topic   string          `json:"topic"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(record.body, &envelope))
	require.Equal(t, events.TopicBookingConfirmed, envelope.Topic)
	require.JSONEq(t, string(ev.Payload), string(envelope.Data))
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{URL: srv.URL, HTTP: httpClient(srv)}
	status, err := hook.Deliver(context.Background(), testEvent())
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, int32(2), calls.Load())
}

func TestWebhookClientErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{URL: srv.URL, HTTP: httpClient(srv)}
	status, err := hook.Deliver(context.Background(), testEvent())
	require.Error(t, err)
	require.Equal(t, http.StatusGone, status)
}

func TestWebhookReplayProtection(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		URL:       srv.URL,
		HTTP:      httpClient(srv),
		Replay:    notify.RedisReplayProtector{Client: rdb},
		ReplayTTL: time.Hour,
	}
	ev := testEvent()
	ctx := context.Background()

	_, err := hook.Deliver(ctx, ev)
	require.Error(t, err)

	fail.Store(false)
	_, err = hook.Deliver(ctx, ev)
	require.NoError(t, err)
	_, err = hook.Deliver(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestWebhookRejectsPlainHTTPRemote(t *testing.T) {
	hook := &notify.Webhook{URL: "http://example.com/hook", HTTP: resilience.HTTPClient{Client: http.DefaultClient}}
	_, err := hook.Deliver(context.Background(), testEvent())
	require.ErrorContains(t, err, "localhost")

	var disabled *notify.Webhook
	require.False(t, disabled.Enabled())
}
