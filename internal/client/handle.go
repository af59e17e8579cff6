package client

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/hearthware/cookd/internal/checklist"
	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/session"
	"github.com/hearthware/cookd/internal/timer"
)

// SessionHandle is the client-side view of one cook session. It keeps
// the last confirmed server snapshot, applies queued mutations
// optimistically on top of it, and sends them one at a time: at most
// one mutation is in flight per session, and anything queued behind it
// is coalesced into the next request.
//
// Merging is by version: a response or refetched snapshot replaces the
// confirmed state only when its version is at least the one already
// held, so a stale response arriving late can never roll rendered
// state backward.
type SessionHandle struct {
	client *Client
	id     string

	mu        sync.Mutex
	confirmed *models.CookSession
	recipe    *models.Recipe
	queue     []session.Intent
	pending   []session.Intent
	inflight  bool

	onChange func(*models.CookSession)
	onError  func(error)
}

// Attach fetches the session and its recipe and returns a handle.
func Attach(ctx context.Context, c *Client, sessionID string) (*SessionHandle, error) {
	sess, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	recipe, err := c.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return nil, err
	}
	return &SessionHandle{
		client:    c,
		id:        sessionID,
		confirmed: sess,
		recipe:    recipe,
	}, nil
}

// OnChange registers a callback invoked (without the lock held) after
// every confirmed-state change. One callback; last registration wins.
func (h *SessionHandle) OnChange(fn func(*models.CookSession)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// OnError registers a callback for mutations the server rejected. The
// optimistic effect of a rejected mutation has already been reverted
// when the callback fires.
func (h *SessionHandle) OnError(fn func(error)) {
	h.mu.Lock()
	h.onError = fn
	h.mu.Unlock()
}

// ID returns the session id.
func (h *SessionHandle) ID() string { return h.id }

// ConfirmedVersion returns the version of the last merged snapshot.
func (h *SessionHandle) ConfirmedVersion() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.confirmed.Version
}

// Snapshot returns the optimistic view: the confirmed snapshot with
// the in-flight batch and every queued mutation applied on top. A
// mutation stays in the overlay for its entire round trip, until the
// server confirms or rejects it. The result is a copy and safe to
// render from.
func (h *SessionHandle) Snapshot() *models.CookSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	view := h.confirmed.Clone()
	steps := checklist.EffectiveSteps(view, h.recipe)
	now := timeNow()
	for _, in := range h.pending {
		_, _ = session.ApplyIntent(view, steps, in, now)
	}
	for _, in := range h.queue {
		// Rejections surface when the server answers; the optimistic
		// pass just skips anything it cannot apply.
		_, _ = session.ApplyIntent(view, steps, in, now)
	}
	return view
}

// Mutate queues intents and kicks the sender if idle. The call returns
// immediately; confirmation or rejection arrives via the callbacks.
func (h *SessionHandle) Mutate(ctx context.Context, intents ...session.Intent) {
	if len(intents) == 0 {
		return
	}
	h.mu.Lock()
	h.queue = append(h.queue, intents...)
	start := !h.inflight
	if start {
		h.inflight = true
	}
	h.mu.Unlock()
	h.notifyChange()
	if start {
		go h.flush(ctx)
	}
}

// flush drains the queue one request at a time. Each request carries a
// fresh idempotency key, so transient failures retry the identical
// mutation safely.
func (h *SessionHandle) flush(ctx context.Context) {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.inflight = false
			h.mu.Unlock()
			return
		}
		batch := h.queue
		h.queue = nil
		h.pending = batch
		h.mu.Unlock()

		sess, err := h.send(ctx, batch)
		if err != nil {
			// The server rejected the batch or it is unreachable: drop
			// its optimistic effect and realign with whatever the server
			// kept.
			h.mu.Lock()
			h.pending = nil
			h.mu.Unlock()
			h.reportError(err)
			h.Refetch(ctx)
			continue
		}
		h.confirm(sess)
	}
}

// confirm installs the server's answer for the in-flight batch. The
// batch leaves the optimistic overlay in the same critical section that
// installs the snapshot, so no Snapshot call can observe a gap between
// the two.
func (h *SessionHandle) confirm(sess *models.CookSession) {
	h.mu.Lock()
	h.pending = nil
	if sess != nil && sess.Version >= h.confirmed.Version {
		h.confirmed = sess
	}
	h.mu.Unlock()
	h.notifyChange()
}

func (h *SessionHandle) send(ctx context.Context, batch []session.Intent) (*models.CookSession, error) {
	key := uuid.NewString()
	op := func() (*models.CookSession, error) {
		sess, err := h.client.Patch(ctx, h.id, key, intentsToPatch(batch))
		if err != nil {
			if errs.IsTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return sess, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
}

// merge installs a server snapshot unless it is older than what we
// already hold.
func (h *SessionHandle) merge(sess *models.CookSession) {
	if sess == nil {
		return
	}
	h.mu.Lock()
	if sess.Version < h.confirmed.Version {
		h.mu.Unlock()
		return
	}
	h.confirmed = sess
	h.mu.Unlock()
	h.notifyChange()
}

// Refetch pulls the current server snapshot and merges it.
func (h *SessionHandle) Refetch(ctx context.Context) {
	sess, err := h.client.GetSession(ctx, h.id)
	if err != nil {
		h.reportError(err)
		return
	}
	h.merge(sess)
}

// HandleEvent reacts to one pushed event. Events are refetch triggers:
// anything newer than the confirmed version causes a snapshot pull.
func (h *SessionHandle) HandleEvent(ctx context.Context, ev events.Event) {
	h.mu.Lock()
	stale := ev.Version <= h.confirmed.Version
	h.mu.Unlock()
	if stale {
		return
	}
	h.Refetch(ctx)
}

func (h *SessionHandle) notifyChange() {
	h.mu.Lock()
	fn := h.onChange
	snap := h.confirmed
	h.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (h *SessionHandle) reportError(err error) {
	h.mu.Lock()
	fn := h.onError
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// intentsToPatch converts internal intents back to the wire patch form.
func intentsToPatch(intents []session.Intent) map[string]any {
	patch := map[string]any{}
	var checks []map[string]any
	var timers []map[string]any
	var actions []map[string]any
	for _, in := range intents {
		switch v := in.(type) {
		case session.SetCurrentStep:
			patch["current_step_index"] = v.Index
		case session.CheckBullet:
			checks = append(checks, map[string]any{"step": v.Step, "bullet": v.Bullet, "checked": v.Checked})
		case session.SetServings:
			patch["servings_target"] = v.Target
		case session.SetAutoStep:
			patch["auto_step"] = map[string]any{"enabled": v.Enabled, "mode": v.Mode}
		case session.CreateTimer:
			timers = append(timers, map[string]any{
				"client_id":    v.ClientID,
				"step_index":   v.StepIndex,
				"bullet_index": v.BulletIndex,
				"label":        v.Label,
				"duration_sec": v.DurationSec,
				"autostart":    v.Autostart,
			})
		case session.TimerAction:
			actions = append(actions, map[string]any{"timer_id": v.TimerID, "action": v.Action})
		case session.MarkStepComplete:
			patch["mark_step_complete"] = v.Step
		}
	}
	if checks != nil {
		patch["checks"] = checks
	}
	if timers != nil {
		patch["timers"] = timers
	}
	if actions != nil {
		patch["timer_actions"] = actions
	}
	return patch
}

// NewTimerIntent builds a CreateTimer intent with a client-generated
// id, so the optimistic timer and the server timer share an identity.
func NewTimerIntent(stepIndex int, bulletIndex *int, label string, durationSec int, autostart bool) session.CreateTimer {
	return session.CreateTimer{
		ClientID:    uuid.NewString(),
		StepIndex:   stepIndex,
		BulletIndex: bulletIndex,
		Label:       label,
		DurationSec: durationSec,
		Autostart:   autostart,
	}
}

// TimerRemaining derives the displayed countdown from the snapshot.
func TimerRemaining(t *models.Timer) int {
	return timer.Remaining(t, timeNow())
}
