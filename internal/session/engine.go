// Package session implements the cook session state machine. All
// mutations flow through Engine, which serializes writers, persists
// through the store's version-guarded update, and broadcasts change
// events for stream subscribers.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthware/cookd/internal/adjust"
	"github.com/hearthware/cookd/internal/advisor"
	"github.com/hearthware/cookd/internal/checklist"
	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/method"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/store"
	"github.com/hearthware/cookd/internal/timer"
)

// Engine coordinates every session mutation.
type Engine struct {
	store    store.Store
	broker   *events.Broker
	adjuster *adjust.Engine
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates the session engine. adjuster may carry a nil
// rewriter; logger may be nil.
func NewEngine(st store.Store, broker *events.Broker, adjuster *adjust.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if adjuster == nil {
		adjuster = adjust.NewEngine(nil)
	}
	return &Engine{
		store:    st,
		broker:   broker,
		adjuster: adjuster,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine's clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Start begins a cook session for a recipe. A recipe can have at most
// one active session; starting a second is a conflict and the caller
// should resume or abandon the existing one.
func (e *Engine) Start(ctx context.Context, recipeID string, servingsTarget int) (*models.CookSession, error) {
	recipe, err := e.store.GetRecipe(ctx, recipeID)
	if err != nil {
		return nil, err
	}
	if existing, err := e.store.GetActiveSessionByRecipe(ctx, recipeID); err == nil && existing != nil {
		return nil, errs.Conflict("recipe %s already has active session %s", recipeID, existing.ID)
	} else if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}

	if servingsTarget <= 0 {
		servingsTarget = recipe.ServingsBase
	}
	sess := &models.CookSession{
		ID:             ulid.Make().String(),
		RecipeID:       recipe.ID,
		Status:         models.SessionStatusActive,
		ServingsBase:   recipe.ServingsBase,
		ServingsTarget: servingsTarget,
		AutoStepMode:   models.AutoStepModeSuggest,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	e.logger.Info("session started", "session_id", sess.ID, "recipe_id", recipe.ID)
	return sess, nil
}

// Get returns a session snapshot.
func (e *Engine) Get(ctx context.Context, id string) (*models.CookSession, error) {
	return e.store.GetSession(ctx, id)
}

// ActiveForRecipe returns the recipe's active session, if any.
func (e *Engine) ActiveForRecipe(ctx context.Context, recipeID string) (*models.CookSession, error) {
	return e.store.GetActiveSessionByRecipe(ctx, recipeID)
}

// List returns sessions matching the filter, newest first.
func (e *Engine) List(ctx context.Context, f store.SessionListFilter) ([]*models.CookSession, error) {
	return e.store.ListSessions(ctx, f)
}

// Patch applies a batch of intents to a session as one versioned write.
// The batch is all-or-nothing: the first failing intent aborts without
// persisting anything. idemKey, when non-empty, makes the whole call
// replay-safe; a repeated key returns the current snapshot unchanged.
func (e *Engine) Patch(ctx context.Context, id, idemKey string, intents []Intent) (*models.CookSession, error) {
	return e.mutate(ctx, id, idemKey, func(sess *models.CookSession, recipe *models.Recipe) ([]events.Event, error) {
		steps := checklist.EffectiveSteps(sess, recipe)
		now := e.now()
		var evs []events.Event
		for _, in := range intents {
			types, err := ApplyIntent(sess, steps, in, now)
			if err != nil {
				return nil, err
			}
			for _, t := range types {
				ev := events.Event{Type: t, SessionID: sess.ID}
				if ta, ok := in.(TimerAction); ok {
					ev.TimerID = ta.TimerID
				}
				if ct, ok := in.(CreateTimer); ok {
					ev.TimerID = ct.ClientID
				}
				evs = append(evs, ev)
			}
		}
		e.refreshAutoStep(sess, steps)
		return evs, nil
	})
}

// Complete ends the session successfully. Terminal is one-way: ending
// an already ended session is a conflict.
func (e *Engine) Complete(ctx context.Context, id, idemKey string) (*models.CookSession, error) {
	return e.end(ctx, id, idemKey, models.SessionStatusCompleted)
}

// Abandon ends the session without finishing the recipe.
func (e *Engine) Abandon(ctx context.Context, id, idemKey string) (*models.CookSession, error) {
	return e.end(ctx, id, idemKey, models.SessionStatusAbandoned)
}

func (e *Engine) end(ctx context.Context, id, idemKey string, status models.SessionStatus) (*models.CookSession, error) {
	return e.mutate(ctx, id, idemKey, func(sess *models.CookSession, _ *models.Recipe) ([]events.Event, error) {
		ended := e.now()
		sess.Status = status
		sess.EndedAt = &ended
		// Running timers stop with the session.
		for _, t := range sess.Timers {
			if t.State == models.TimerStateRunning {
				timer.Apply(t, timer.ActionDone, ended)
			}
		}
		e.logger.Info("session ended", "session_id", sess.ID, "status", status)
		return []events.Event{{Type: events.TypeSessionEnded, SessionID: sess.ID}}, nil
	})
}

// PreviewMethod computes the alternate step list for an equipment
// method without touching the session.
func (e *Engine) PreviewMethod(ctx context.Context, id, methodKey string) (*method.Preview, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	recipe, err := e.store.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return nil, err
	}
	return method.Compute(recipe, methodKey)
}

// ApplyMethod recomputes and installs the method override as the
// effective step list. Applying a method over another method replaces
// it wholesale. Checklist entries from the prior shape are kept as-is;
// entries whose indices fall outside the new list are simply inert.
func (e *Engine) ApplyMethod(ctx context.Context, id, idemKey, methodKey string) (*models.CookSession, error) {
	return e.mutate(ctx, id, idemKey, func(sess *models.CookSession, recipe *models.Recipe) ([]events.Event, error) {
		pv, err := method.Compute(recipe, methodKey)
		if err != nil {
			return nil, err
		}
		generated := e.now()
		sess.MethodKey = pv.MethodKey
		sess.StepsOverride = pv.Steps
		sess.MethodTradeoffs = &pv.Tradeoffs
		sess.MethodGeneratedAt = &generated
		// The new step list supersedes any adjustments made to the old one.
		sess.AdjustmentsLog = nil
		if len(pv.Steps) > 0 && sess.CurrentStepIndex >= len(pv.Steps) {
			sess.CurrentStepIndex = len(pv.Steps) - 1
		}
		return []events.Event{{Type: events.TypeSessionUpdated, SessionID: sess.ID}}, nil
	})
}

// ResetMethod drops the method override, and any adjustments made on
// top of it, returning the session to the recipe's canonical steps.
// Resetting with no method in effect is a no-op, not an error; in
// particular it leaves adjustments made without a method alone.
func (e *Engine) ResetMethod(ctx context.Context, id, idemKey string) (*models.CookSession, error) {
	return e.mutate(ctx, id, idemKey, func(sess *models.CookSession, recipe *models.Recipe) ([]events.Event, error) {
		if !sess.MethodApplied() {
			return nil, nil
		}
		sess.MethodKey = ""
		sess.StepsOverride = nil
		sess.MethodTradeoffs = nil
		sess.MethodGeneratedAt = nil
		// Adjustments were edits to the override list; their undo records
		// point at steps that no longer exist, so the log goes with it.
		sess.AdjustmentsLog = nil
		if len(recipe.Steps) > 0 && sess.CurrentStepIndex >= len(recipe.Steps) {
			sess.CurrentStepIndex = len(recipe.Steps) - 1
		}
		return []events.Event{{Type: events.TypeSessionUpdated, SessionID: sess.ID}}, nil
	})
}

// PreviewAdjustment computes a fix-it rewrite for one step of the
// session's effective step list. Nothing is persisted.
func (e *Engine) PreviewAdjustment(ctx context.Context, id string, stepIndex int, bulletIndex *int, kind models.AdjustmentKind) (*adjust.Result, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	recipe, err := e.store.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return nil, err
	}
	return e.adjuster.Preview(ctx, checklist.EffectiveSteps(sess, recipe), stepIndex, bulletIndex, kind)
}

// ApplyAdjustment installs a previewed rewrite. Previews are not
// persisted server-side, so the caller resubmits the full adjustment
// content; the engine recaptures the prior step so undo restores
// whatever was actually in effect at apply time.
func (e *Engine) ApplyAdjustment(ctx context.Context, id, idemKey string, adj models.Adjustment) (*models.CookSession, error) {
	return e.mutate(ctx, id, idemKey, func(sess *models.CookSession, recipe *models.Recipe) ([]events.Event, error) {
		if !models.ValidAdjustmentKind(adj.Kind) {
			return nil, errs.Validation("unknown adjustment kind %q", adj.Kind)
		}
		steps := checklist.EffectiveSteps(sess, recipe)
		if adj.StepIndex < 0 || adj.StepIndex >= len(steps) {
			return nil, errs.Validation("step index %d out of range (0..%d)", adj.StepIndex, len(steps)-1)
		}
		if adj.Title == "" {
			return nil, errs.Validation("adjustment title must not be empty")
		}

		prior := steps[adj.StepIndex]
		if adj.ID == "" {
			adj.ID = ulid.Make().String()
		}
		adj.PrevTitle = prior.Title
		adj.PrevBullets = append([]string(nil), prior.Bullets...)
		adj.AppliedAt = e.now()

		// Adjustments always edit the effective list in place, so they
		// survive regardless of whether a method override is active.
		override := append([]models.RecipeStep(nil), steps...)
		override[adj.StepIndex] = models.RecipeStep{
			Title:       adj.Title,
			Bullets:     append([]string(nil), adj.Bullets...),
			DurationSec: prior.DurationSec,
		}
		sess.StepsOverride = override
		sess.AdjustmentsLog = append(sess.AdjustmentsLog, adj)
		return []events.Event{{Type: events.TypeSessionUpdated, SessionID: sess.ID}}, nil
	})
}

// UndoAdjustment reverts the most recent applied adjustment, restoring
// the exact prior step content. Undo is single-level per entry: each
// call pops one log entry. With an empty log it is a no-op.
func (e *Engine) UndoAdjustment(ctx context.Context, id, idemKey string) (*models.CookSession, error) {
	return e.mutate(ctx, id, idemKey, func(sess *models.CookSession, recipe *models.Recipe) ([]events.Event, error) {
		n := len(sess.AdjustmentsLog)
		if n == 0 {
			return nil, nil
		}
		last := sess.AdjustmentsLog[n-1]
		sess.AdjustmentsLog = sess.AdjustmentsLog[:n-1]

		steps := checklist.EffectiveSteps(sess, recipe)
		if last.StepIndex >= 0 && last.StepIndex < len(steps) {
			restored := append([]models.RecipeStep(nil), steps...)
			restored[last.StepIndex] = models.RecipeStep{
				Title:       last.PrevTitle,
				Bullets:     append([]string(nil), last.PrevBullets...),
				DurationSec: steps[last.StepIndex].DurationSec,
			}
			sess.StepsOverride = restored
		}
		// An override with no method and no remaining adjustments has no
		// reason to exist; drop back to the canonical steps entirely.
		if !sess.MethodApplied() && len(sess.AdjustmentsLog) == 0 {
			sess.StepsOverride = nil
		}
		return []events.Event{{Type: events.TypeSessionUpdated, SessionID: sess.ID}}, nil
	})
}

// TimerSuggestions derives candidate timers from the effective steps.
func (e *Engine) TimerSuggestions(ctx context.Context, id string) ([]timer.Suggestion, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	recipe, err := e.store.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return nil, err
	}
	return timer.SuggestFromSteps(checklist.EffectiveSteps(sess, recipe)), nil
}

// CreateSuggestedTimers accepts suggestions by client id and creates
// the corresponding timers in one write. Unknown ids are skipped;
// already-accepted ones are no-ops thanks to deterministic suggestion
// ids.
func (e *Engine) CreateSuggestedTimers(ctx context.Context, id, idemKey string, clientIDs []string, autostart bool) (*models.CookSession, error) {
	return e.mutate(ctx, id, idemKey, func(sess *models.CookSession, recipe *models.Recipe) ([]events.Event, error) {
		steps := checklist.EffectiveSteps(sess, recipe)
		wanted := make(map[string]bool, len(clientIDs))
		for _, cid := range clientIDs {
			wanted[cid] = true
		}
		now := e.now()
		var evs []events.Event
		for _, sug := range timer.SuggestFromSteps(steps) {
			if len(clientIDs) > 0 && !wanted[sug.ClientID] {
				continue
			}
			types, err := ApplyIntent(sess, steps, CreateTimer{
				ClientID:    sug.ClientID,
				StepIndex:   sug.StepIndex,
				Label:       sug.Label,
				DurationSec: sug.DurationSec,
				Autostart:   autostart,
			}, now)
			if err != nil {
				return nil, err
			}
			for _, t := range types {
				evs = append(evs, events.Event{Type: t, SessionID: sess.ID, TimerID: sug.ClientID})
			}
		}
		return evs, nil
	})
}

// NextAction computes the advisor's suggestion for what to do next.
func (e *Engine) NextAction(ctx context.Context, id string) (*advisor.Suggestions, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	recipe, err := e.store.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return nil, err
	}
	s := advisor.Suggest(sess, recipe)
	return &s, nil
}

// CleanupStale deletes abandoned sessions that never got past the first
// step and lasted under a minute. Returns the number removed.
func (e *Engine) CleanupStale(ctx context.Context) (int64, error) {
	n, err := e.store.DeleteStaleSessions(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("stale sessions removed", "count", n)
	}
	return n, nil
}

// mutate is the shared write path: idempotency replay, terminal guard,
// apply, version-guarded persist, event broadcast. A nil event slice
// with a nil error from fn means "no change"; the snapshot is returned
// without a write so no-ops never bump the version.
func (e *Engine) mutate(ctx context.Context, id, idemKey string, fn func(sess *models.CookSession, recipe *models.Recipe) ([]events.Event, error)) (*models.CookSession, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if idemKey != "" {
		seen, err := e.store.RememberRequest(ctx, idemKey, id)
		if err != nil {
			return nil, err
		}
		if seen {
			e.logger.Debug("idempotent replay", "session_id", id, "key", idemKey)
			return sess, nil
		}
	}
	if sess.Status.Terminal() {
		e.forget(ctx, idemKey, id)
		return nil, errs.Conflict("session %s is %s", id, sess.Status)
	}
	recipe, err := e.store.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		e.forget(ctx, idemKey, id)
		return nil, err
	}

	evs, err := fn(sess, recipe)
	if err != nil {
		e.forget(ctx, idemKey, id)
		return nil, err
	}
	if evs == nil {
		return sess, nil
	}
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		e.forget(ctx, idemKey, id)
		return nil, err
	}
	for _, ev := range evs {
		ev.Version = sess.Version
		e.broker.Publish(ev)
	}
	return sess, nil
}

// forget releases an idempotency key whose mutation did not commit, so
// a retry with the same key re-applies instead of replaying a write
// that never happened.
func (e *Engine) forget(ctx context.Context, key, sessionID string) {
	if key == "" {
		return
	}
	if err := e.store.ForgetRequest(ctx, key, sessionID); err != nil {
		e.logger.Warn("releasing idempotency key failed", "session_id", sessionID, "key", key, "error", err)
	}
}

// refreshAutoStep recomputes the advisory next-step hint after a patch.
// In auto_jump mode a confident hint moves the cursor directly.
func (e *Engine) refreshAutoStep(sess *models.CookSession, steps []models.RecipeStep) {
	if !sess.AutoStepEnabled {
		return
	}
	sess.AutoStepSuggestedIndex = nil
	sess.AutoStepConfidence = 0
	sess.AutoStepReason = ""

	cur := sess.CurrentStepIndex
	if !checklist.IsStepComplete(sess, steps, cur) || cur+1 >= len(steps) {
		return
	}
	next := cur + 1
	sess.AutoStepSuggestedIndex = &next
	sess.AutoStepConfidence = 0.9
	sess.AutoStepReason = "all items on the current step are checked"
	if sess.AutoStepMode == models.AutoStepModeAutoJump {
		sess.CurrentStepIndex = next
		sess.AutoStepSuggestedIndex = nil
	}
}
