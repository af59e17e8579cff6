// Package timer implements the timer engine: lifecycle transitions and
// read-time derivation of remaining time from absolute timestamps.
package timer

import (
	"time"

	"github.com/google/uuid"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/models"
)

// Action is a timer lifecycle operation.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionDone   Action = "done"
	ActionDelete Action = "delete"
)

// ValidAction reports whether a is a known timer action.
func ValidAction(a Action) bool {
	switch a {
	case ActionStart, ActionPause, ActionResume, ActionDone, ActionDelete:
		return true
	}
	return false
}

// New creates a timer in the created state, or running when autostart
// is set. A non-positive duration is rejected before any state change.
func New(stepIndex int, bulletIndex *int, label string, durationSec int, autostart bool, now time.Time) (*models.Timer, error) {
	if durationSec <= 0 {
		return nil, errs.Validation("timer duration must be positive, got %d", durationSec)
	}
	if label == "" {
		label = "Timer"
	}
	t := &models.Timer{
		ID:          uuid.NewString(),
		StepIndex:   stepIndex,
		BulletIndex: bulletIndex,
		Label:       label,
		DurationSec: durationSec,
		State:       models.TimerStateCreated,
		CreatedAt:   now,
	}
	if autostart {
		started := now
		t.State = models.TimerStateRunning
		t.StartedAt = &started
		t.AutoStarted = autostart
	}
	return t, nil
}

// Apply performs a lifecycle action on the timer. Invalid transitions
// (pause on a paused timer, resume on a running one, anything on a done
// timer except delete) are lenient no-ops: timers are a low-stakes UI
// affordance, not a ledger. Returns whether the timer changed.
func Apply(t *models.Timer, action Action, now time.Time) bool {
	switch action {
	case ActionStart, ActionResume:
		if t.State != models.TimerStateCreated && t.State != models.TimerStatePaused {
			return false
		}
		started := now
		t.State = models.TimerStateRunning
		t.StartedAt = &started
		return true

	case ActionPause:
		if t.State != models.TimerStateRunning {
			return false
		}
		if t.StartedAt != nil {
			t.ElapsedSec += int(now.Sub(*t.StartedAt).Seconds())
		}
		t.State = models.TimerStatePaused
		t.StartedAt = nil
		return true

	case ActionDone:
		// Manual early completion is allowed regardless of remaining time.
		if t.State == models.TimerStateDone {
			return false
		}
		if t.State == models.TimerStateRunning && t.StartedAt != nil {
			t.ElapsedSec += int(now.Sub(*t.StartedAt).Seconds())
		}
		t.State = models.TimerStateDone
		t.StartedAt = nil
		return true

	case ActionDelete:
		if t.DeletedAt != nil {
			return false
		}
		deleted := now
		t.DeletedAt = &deleted
		return true
	}
	return false
}

// Remaining derives seconds left on the countdown at the given instant.
// A running timer that reaches zero stays running until an explicit done
// transition; the authority for "done" is the state, not the countdown.
func Remaining(t *models.Timer, now time.Time) int {
	elapsed := t.ElapsedSec
	if t.State == models.TimerStateRunning && t.StartedAt != nil {
		elapsed += int(now.Sub(*t.StartedAt).Seconds())
	}
	remaining := t.DurationSec - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DueAt returns the wall clock at which a running timer's countdown
// reaches zero. The second return is false unless the timer is running.
func DueAt(t *models.Timer) (time.Time, bool) {
	if t.State != models.TimerStateRunning || t.StartedAt == nil {
		return time.Time{}, false
	}
	return t.StartedAt.Add(time.Duration(t.DurationSec-t.ElapsedSec) * time.Second), true
}
