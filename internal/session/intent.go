package session

import (
	"time"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/timer"
)

// Intent is one well-defined mutation of a cook session. The wire
// format stays a flexible partial patch object, but internally every
// patch is decomposed into these variants so each one's validation and
// effect is handled exhaustively instead of inferred from which
// optional field happened to be present.
type Intent interface {
	intent()
}

// SetCurrentStep moves the navigation cursor.
type SetCurrentStep struct {
	Index int
}

// CheckBullet is an idempotent set (never toggle-from-current) of one
// checklist entry, so two in-flight patches for the same key cannot
// lose an update.
type CheckBullet struct {
	Step    int
	Bullet  int
	Checked bool
}

// CreateTimer adds a timer to the session. ClientID, when set, becomes
// the timer id so a retried create cannot produce a duplicate.
type CreateTimer struct {
	ClientID    string
	StepIndex   int
	BulletIndex *int
	Label       string
	DurationSec int
	Autostart   bool
}

// TimerAction performs a lifecycle operation on an existing timer.
type TimerAction struct {
	TimerID string
	Action  timer.Action
}

// SetServings changes the scaling target.
type SetServings struct {
	Target int
}

// SetAutoStep configures the automatic step-detection hints.
type SetAutoStep struct {
	Enabled bool
	Mode    models.AutoStepMode
}

// MarkStepComplete checks every bullet of one step in one operation.
type MarkStepComplete struct {
	Step int
}

func (SetCurrentStep) intent()   {}
func (CheckBullet) intent()      {}
func (CreateTimer) intent()      {}
func (TimerAction) intent()      {}
func (SetServings) intent()      {}
func (SetAutoStep) intent()      {}
func (MarkStepComplete) intent() {}

// ApplyIntent mutates the session in place per one intent and reports
// the event types the change should broadcast. It is a pure state
// transition over the snapshot: the engine persists and broadcasts, and
// the client reuses it to compute optimistic local state.
func ApplyIntent(sess *models.CookSession, steps []models.RecipeStep, in Intent, now time.Time) ([]events.Type, error) {
	switch v := in.(type) {
	case SetCurrentStep:
		if v.Index < 0 || v.Index >= len(steps) {
			return nil, errs.Validation("step index %d out of range (0..%d)", v.Index, len(steps)-1)
		}
		sess.CurrentStepIndex = v.Index
		return []events.Type{events.TypeSessionUpdated}, nil

	case CheckBullet:
		if v.Step < 0 || v.Bullet < 0 {
			return nil, errs.Validation("negative check indices (%d, %d)", v.Step, v.Bullet)
		}
		// Indices beyond the effective step list are tolerated: they can
		// legitimately reference a prior step-list shape and the display
		// simply never reads them.
		sess.SetChecked(v.Step, v.Bullet, v.Checked)
		if v.Checked {
			return []events.Type{events.TypeCheckStep}, nil
		}
		return []events.Type{events.TypeUncheckStep}, nil

	case CreateTimer:
		if v.ClientID != "" {
			if _, exists := sess.Timers[v.ClientID]; exists {
				return nil, nil // retried create, already applied
			}
		}
		t, err := timer.New(v.StepIndex, v.BulletIndex, v.Label, v.DurationSec, v.Autostart, now)
		if err != nil {
			return nil, err
		}
		if v.ClientID != "" {
			t.ID = v.ClientID
		}
		if sess.Timers == nil {
			sess.Timers = make(map[string]*models.Timer)
		}
		sess.Timers[t.ID] = t
		return []events.Type{events.TypeTimerCreated}, nil

	case TimerAction:
		if !timer.ValidAction(v.Action) {
			return nil, errs.Validation("unknown timer action %q", v.Action)
		}
		t, ok := sess.Timers[v.TimerID]
		if !ok {
			return nil, errs.NotFound("timer %s", v.TimerID)
		}
		if !timer.Apply(t, v.Action, now) {
			return nil, nil // lenient no-op, current state stands
		}
		return []events.Type{events.TypeTimerUpdated}, nil

	case SetServings:
		if v.Target <= 0 {
			return nil, errs.Validation("servings target must be positive, got %d", v.Target)
		}
		sess.ServingsTarget = v.Target
		return []events.Type{events.TypeSessionUpdated}, nil

	case SetAutoStep:
		mode := v.Mode
		if mode == "" {
			mode = models.AutoStepModeSuggest
		}
		if mode != models.AutoStepModeSuggest && mode != models.AutoStepModeAutoJump {
			return nil, errs.Validation("unknown auto-step mode %q", v.Mode)
		}
		sess.AutoStepEnabled = v.Enabled
		sess.AutoStepMode = mode
		if !v.Enabled {
			sess.AutoStepSuggestedIndex = nil
			sess.AutoStepConfidence = 0
			sess.AutoStepReason = ""
		}
		return []events.Type{events.TypeSessionUpdated}, nil

	case MarkStepComplete:
		if v.Step < 0 || v.Step >= len(steps) {
			return nil, errs.Validation("step index %d out of range (0..%d)", v.Step, len(steps)-1)
		}
		for b := range steps[v.Step].Bullets {
			sess.SetChecked(v.Step, b, true)
		}
		return []events.Type{events.TypeCheckStep}, nil
	}
	return nil, errs.Validation("unsupported patch intent %T", in)
}
