package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectSink) Name() string { return "collect" }

func (c *collectSink) Deliver(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_FansOutToAllSinks(t *testing.T) {
	a, b := &collectSink{}, &collectSink{}
	d := NewDispatcher([]Sink{a, b}, WithLogger(quietLogger()))

	d.Publish(Event{Kind: KindTransition, ApplicationID: "app-1", From: "submitted", To: "documents_reviewed"})
	d.Publish(Event{Kind: KindSubmitted, ApplicationID: "app-2"})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 2, a.len())
	assert.Equal(t, 2, b.len())
	assert.False(t, a.events[0].OccurredAt.IsZero(), "timestamp filled in on publish")
}

func TestDispatcher_SinkErrorDoesNotStopDelivery(t *testing.T) {
	ok := &collectSink{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("down") })
	d := NewDispatcher([]Sink{failing, ok}, WithLogger(quietLogger()))

	d.Publish(Event{Kind: KindTransition, ApplicationID: "app-1"})
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, ok.len())
}

func TestDispatcher_DropsWhenBufferFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	})
	var dropped []Event
	var mu sync.Mutex
	d := NewDispatcher([]Sink{blocking},
		WithBuffer(1),
		WithLogger(quietLogger()),
		WithDropHook(func(e Event) {
			mu.Lock()
			dropped = append(dropped, e)
			mu.Unlock()
		}),
	)

	// First event is taken by the worker, second fills the buffer.
	d.Publish(Event{ApplicationID: "1"})
	time.Sleep(20 * time.Millisecond)
	d.Publish(Event{ApplicationID: "2"})
	d.Publish(Event{ApplicationID: "3"})

	assert.Equal(t, int64(1), d.Dropped())
	close(release)
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dropped, 1)
	assert.Equal(t, "3", dropped[0].ApplicationID)
}

func TestDispatcher_PublishAfterCloseIsDropped(t *testing.T) {
	d := NewDispatcher(nil, WithLogger(quietLogger()))
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() { d.Publish(Event{ApplicationID: "late"}) })
	assert.Equal(t, int64(1), d.Dropped())
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	err := sink.Deliver(context.Background(), Event{Kind: KindStage, ApplicationID: "app-9", Notes: "approved"})
	require.NoError(t, err)
	assert.Equal(t, "app-9", got.ApplicationID)
	assert.Equal(t, KindStage, got.Kind)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second).Deliver(context.Background(), Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
