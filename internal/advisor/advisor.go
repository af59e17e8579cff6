// Package advisor proposes the next best action for a cook session.
// It is purely advisory: executing a suggestion issues the same patch
// operations a manual action would, and the advisor holds no state, so
// it is safe to recompute on every snapshot change.
package advisor

import (
	"fmt"

	"github.com/hearthware/cookd/internal/checklist"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/timer"
)

// ActionType enumerates the one-click actions the UI can execute.
type ActionType string

const (
	ActionGoToStep        ActionType = "go_to_step"
	ActionStartTimer      ActionType = "start_timer"
	ActionCreateTimer     ActionType = "create_timer"
	ActionMarkStepDone    ActionType = "mark_step_done"
	ActionCompleteSession ActionType = "complete_session"
)

// Action is one ranked suggestion.
type Action struct {
	Type        ActionType `json:"type"`
	Label       string     `json:"label"`
	StepIndex   int        `json:"step_index,omitempty"`
	TimerID     string     `json:"timer_id,omitempty"`
	TimerLabel  string     `json:"timer_label,omitempty"`
	DurationSec int        `json:"duration_sec,omitempty"`
}

// Suggestions is the advisor output: up to three ranked actions plus the
// reasoning behind the top one.
type Suggestions struct {
	SuggestedStepIndex int      `json:"suggested_step_idx"`
	Actions            []Action `json:"actions"`
	Reason             string   `json:"reason,omitempty"`
}

// Suggest derives 0-3 ranked actions from the current snapshot.
//
// Priority order: advance when the current step is done and a next step
// exists; start an existing idle timer for the step; create a timer the
// step text implies; complete the session on a finished last step.
func Suggest(sess *models.CookSession, recipe *models.Recipe) Suggestions {
	out := Suggestions{SuggestedStepIndex: sess.CurrentStepIndex}
	if sess.Status != models.SessionStatusActive {
		return out
	}

	steps := checklist.EffectiveSteps(sess, recipe)
	if len(steps) == 0 {
		return out
	}
	cur := sess.CurrentStepIndex
	stepDone := checklist.IsStepComplete(sess, steps, cur)
	lastStep := cur >= len(steps)-1

	if stepDone && !lastStep {
		out.SuggestedStepIndex = cur + 1
		out.Reason = fmt.Sprintf("Step %d is done", cur+1)
		out.Actions = append(out.Actions, Action{
			Type:      ActionGoToStep,
			Label:     fmt.Sprintf("Go to step %d", cur+2),
			StepIndex: cur + 1,
		})
	}

	if t := idleTimerForStep(sess, cur); t != nil {
		out.Actions = append(out.Actions, Action{
			Type:       ActionStartTimer,
			Label:      fmt.Sprintf("Start %q", t.Label),
			TimerID:    t.ID,
			TimerLabel: t.Label,
			StepIndex:  cur,
		})
		if out.Reason == "" {
			out.Reason = fmt.Sprintf("%q is ready to start", t.Label)
		}
	} else if !hasTimerForStep(sess, cur) {
		if sugg := suggestionForStep(steps, cur); sugg != nil {
			out.Actions = append(out.Actions, Action{
				Type:        ActionCreateTimer,
				Label:       fmt.Sprintf("Set a %s timer", humanDuration(sugg.DurationSec)),
				StepIndex:   cur,
				TimerLabel:  sugg.Label,
				DurationSec: sugg.DurationSec,
			})
			if out.Reason == "" {
				out.Reason = "This step looks timed"
			}
		}
	}

	if !stepDone && len(steps[cur].Bullets) > 0 {
		out.Actions = append(out.Actions, Action{
			Type:      ActionMarkStepDone,
			Label:     fmt.Sprintf("Mark step %d done", cur+1),
			StepIndex: cur,
		})
	}

	if lastStep && stepDone {
		out.Actions = append([]Action{{
			Type:  ActionCompleteSession,
			Label: "Finish cooking",
		}}, out.Actions...)
		out.Reason = "Last step is done"
	}

	if len(out.Actions) > 3 {
		out.Actions = out.Actions[:3]
	}
	return out
}

func idleTimerForStep(sess *models.CookSession, step int) *models.Timer {
	for _, t := range sess.Timers {
		if t.DeletedAt == nil && t.StepIndex == step && t.State == models.TimerStateCreated {
			return t
		}
	}
	return nil
}

func hasTimerForStep(sess *models.CookSession, step int) bool {
	for _, t := range sess.Timers {
		if t.DeletedAt == nil && t.StepIndex == step && t.State != models.TimerStateDone {
			return true
		}
	}
	return false
}

func suggestionForStep(steps []models.RecipeStep, step int) *timer.Suggestion {
	for _, s := range timer.SuggestFromSteps(steps) {
		if s.StepIndex == step {
			return &s
		}
	}
	return nil
}

func humanDuration(sec int) string {
	switch {
	case sec >= 3600 && sec%3600 == 0:
		return fmt.Sprintf("%dh", sec/3600)
	case sec >= 60:
		return fmt.Sprintf("%dm", sec/60)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
