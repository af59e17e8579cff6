package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/events"
)

// sseServer serves a canned event stream for one session and then holds
// the connection open until the client goes away.
func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer must support flushing")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubscribe_DeliversDecodedEvents(t *testing.T) {
	srv := sseServer(t, []string{
		"event: check_step\ndata: {\"type\":\"check_step\",\"session_id\":\"s1\",\"version\":4}\n\n",
		": ping\n\n",
		"event: session_updated\ndata: {\"type\":\"session_updated\",\"session_id\":\"s1\",\"version\":5}\n\n",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan events.Event, 8)
	sub := Subscribe(ctx, New(srv.URL), "s1", func(_ context.Context, ev events.Event) {
		got <- ev
	}, nil)

	first := waitEvent(t, got)
	assert.Equal(t, events.TypeCheckStep, first.Type)
	assert.Equal(t, int64(4), first.Version)

	second := waitEvent(t, got)
	assert.Equal(t, events.TypeSessionUpdated, second.Type)
	assert.Equal(t, int64(5), second.Version)

	assert.Equal(t, StreamConnected, sub.State())
}

func TestSubscribe_StateTransitions(t *testing.T) {
	srv := sseServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var states []StreamState
	Subscribe(ctx, New(srv.URL), "s1", nil, func(st StreamState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, st := range states {
			if st == StreamConnected {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubscribe_GivesUpOnMissingSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := Subscribe(ctx, New(srv.URL), "ghost", nil, nil)

	require.Eventually(t, func() bool {
		return sub.State() == StreamGivenUp
	}, 5*time.Second, 10*time.Millisecond, "a 404 is permanent, not retryable")
}

func TestSubscribe_IgnoresMalformedFrames(t *testing.T) {
	srv := sseServer(t, []string{
		"data: not json\n\n",
		"data: {\"type\":\"session_updated\",\"session_id\":\"s1\",\"version\":2}\n\n",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan events.Event, 8)
	Subscribe(ctx, New(srv.URL), "s1", func(_ context.Context, ev events.Event) {
		got <- ev
	}, nil)

	ev := waitEvent(t, got)
	assert.Equal(t, int64(2), ev.Version, "garbage frames are skipped, the stream stays up")
}

func TestSubscribe_RecordsDisconnectWhenStreamDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"type\":\"session_updated\",\"session_id\":\"s1\",\"version\":2}\n\n")
		// Returning here drops the stream mid-session.
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan events.Event, 32)
	sub := Subscribe(ctx, New(srv.URL), "s1", func(_ context.Context, ev events.Event) {
		select {
		case got <- ev:
		default:
		}
	}, nil)

	waitEvent(t, got)
	require.Eventually(t, func() bool {
		return errs.IsStreamDisconnect(sub.LastError())
	}, 5*time.Second, 10*time.Millisecond, "a drop after connecting reads as a stream disconnect")
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
		return events.Event{}
	}
}
