package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/events"
)

// StreamState is the lifecycle of an event subscription.
type StreamState string

const (
	StreamConnecting StreamState = "connecting"
	StreamConnected  StreamState = "connected"
	StreamBackingOff StreamState = "backing_off"
	StreamGivenUp    StreamState = "given_up"
)

// Subscription consumes a session's server-sent event stream and feeds
// each event to a handler. Connection loss is handled internally:
// reconnect attempts back off exponentially, and a successful
// reconnection resets the backoff. After giveUpAfter of consecutive
// failed attempts the subscription transitions to given_up and stops;
// the consumer decides whether to start a new one.
type Subscription struct {
	client      *Client
	sessionID   string
	handler     func(context.Context, events.Event)
	onState     func(StreamState)
	giveUpAfter time.Duration

	mu      sync.Mutex
	state   StreamState
	lastErr error
}

// Subscribe starts consuming the session's event stream in a goroutine.
// handler is called for every decoded event; onState (optional) is
// called on every state transition.
func Subscribe(ctx context.Context, c *Client, sessionID string, handler func(context.Context, events.Event), onState func(StreamState)) *Subscription {
	sub := &Subscription{
		client:      c,
		sessionID:   sessionID,
		handler:     handler,
		onState:     onState,
		giveUpAfter: 2 * time.Minute,
		state:       StreamConnecting,
	}
	go sub.run(ctx)
	return sub
}

// State returns the current subscription state.
func (s *Subscription) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent connection failure. A stream that
// dropped after connecting satisfies errs.IsStreamDisconnect, which
// tells it apart from a connection that was never established.
func (s *Subscription) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Subscription) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Subscription) setState(st StreamState) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed && s.onState != nil {
		s.onState(st)
	}
}

func (s *Subscription) run(ctx context.Context) {
	for {
		s.setState(StreamConnecting)
		resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
			resp, err := s.connect(ctx)
			if err != nil {
				s.setState(StreamBackingOff)
			}
			return resp, err
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(s.giveUpAfter),
		)
		if err != nil {
			if ctx.Err() == nil {
				s.recordErr(err)
				s.setState(StreamGivenUp)
			}
			return
		}

		s.setState(StreamConnected)
		err = s.consume(ctx, resp)
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		s.recordErr(err)
		// Disconnected after a good connection: loop back with a fresh
		// backoff window.
	}
}

// connect opens the SSE stream. A 404 means the session is gone and is
// permanent; transport errors and 5xx are retryable.
func (s *Subscription) connect(ctx context.Context) (*http.Response, error) {
	url := s.client.baseURL + "/api/v1/sessions/" + s.sessionID + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout here: the stream is meant to stay open.
	resp, err := s.client.streamHTTP().Do(req)
	if err != nil {
		return nil, errs.Transient(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr := decodeAPIError(resp)
		if errs.IsNotFound(apiErr) || errs.IsValidation(apiErr) {
			return nil, backoff.Permanent(apiErr)
		}
		return nil, errs.Transient(apiErr)
	}
	return resp, nil
}

// consume reads SSE frames until the stream drops or ctx is done. A
// drop is reported as a stream disconnect carrying the read error, if
// any; cancellation returns nil.
func (s *Subscription) consume(ctx context.Context, resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				s.dispatch(ctx, data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return errs.StreamDisconnect(scanner.Err())
}

func (s *Subscription) dispatch(ctx context.Context, payload string) {
	var ev events.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return
	}
	if s.handler != nil {
		s.handler(ctx, ev)
	}
}

// streamHTTP returns an HTTP client without the request timeout used
// for unary calls.
func (c *Client) streamHTTP() *http.Client {
	return &http.Client{}
}
