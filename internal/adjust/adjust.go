// Package adjust produces fix-it rewrites of a single recipe step in
// response to a situational problem (too salty, burning, ...). Preview
// is read-only and safe to call any number of times; the session engine
// owns apply and undo. The engine is stateless between preview and
// apply: previews are not persisted, so the caller resubmits the full
// previewed content on apply.
package adjust

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/models"
)

// Rewriter produces a model-backed step rewrite. Nil is a valid
// implementation: the engine falls back to the heuristic catalog.
type Rewriter interface {
	RewriteStep(ctx context.Context, kind models.AdjustmentKind, step models.RecipeStep) (title string, bullets []string, confidence float64, err error)
}

// Engine computes adjustment previews.
type Engine struct {
	rewriter Rewriter // may be nil
}

// NewEngine creates an adjustment engine. rewriter may be nil, in which
// case all previews come from the built-in heuristics.
func NewEngine(rewriter Rewriter) *Engine {
	return &Engine{rewriter: rewriter}
}

// Result is a previewed adjustment plus the steps as they would look
// after apply, so the UI can render a diff without computing one.
type Result struct {
	Adjustment models.Adjustment   `json:"adjustment"`
	StepsAfter []models.RecipeStep `json:"steps_preview"`
}

// Preview computes the candidate rewrite for one step. It never mutates
// session state. bulletIndex is optional; when set it pins the problem
// to one bullet and is carried on the adjustment, though the rewrite
// still covers the whole step.
func (e *Engine) Preview(ctx context.Context, steps []models.RecipeStep, stepIndex int, bulletIndex *int, kind models.AdjustmentKind) (*Result, error) {
	if !models.ValidAdjustmentKind(kind) {
		return nil, errs.Validation("unknown adjustment kind %q", kind)
	}
	if stepIndex < 0 || stepIndex >= len(steps) {
		return nil, errs.Validation("step index %d out of range (recipe has %d steps)", stepIndex, len(steps))
	}
	step := steps[stepIndex]
	if bulletIndex != nil && (*bulletIndex < 0 || *bulletIndex >= len(step.Bullets)) {
		return nil, errs.Validation("bullet index %d out of range (step has %d bullets)", *bulletIndex, len(step.Bullets))
	}

	adj := models.Adjustment{
		ID:          ulid.Make().String(),
		StepIndex:   stepIndex,
		BulletIndex: bulletIndex,
		Kind:        kind,
		PrevTitle:   step.Title,
		PrevBullets: append([]string(nil), step.Bullets...),
	}

	if e.rewriter != nil {
		title, bullets, confidence, err := e.rewriter.RewriteStep(ctx, kind, step)
		if err == nil && title != "" {
			adj.Title = title
			adj.Bullets = bullets
			adj.Confidence = confidence
			adj.Source = "llm"
			adj.Warnings = fixes[kind].warnings
			return e.result(steps, adj), nil
		}
		// Model failures degrade to the heuristic, never to an error:
		// a missing suggestion beats an errored session view.
	}

	fix := fixes[kind]
	adj.Title = step.Title
	adj.Bullets = append(append([]string(nil), fix.bullets...), step.Bullets...)
	adj.Confidence = fix.confidence
	adj.Source = "heuristic"
	adj.Warnings = fix.warnings
	return e.result(steps, adj), nil
}

func (e *Engine) result(steps []models.RecipeStep, adj models.Adjustment) *Result {
	after := append([]models.RecipeStep(nil), steps...)
	after[adj.StepIndex] = models.RecipeStep{
		Title:       adj.Title,
		Bullets:     adj.Bullets,
		DurationSec: steps[adj.StepIndex].DurationSec,
	}
	return &Result{Adjustment: adj, StepsAfter: after}
}

// fix is the heuristic rescue playbook for one adjustment kind. The
// rescue bullets are prepended to the step so the cook sees the fix
// before continuing with the original instructions.
type fix struct {
	bullets    []string
	warnings   []string
	confidence float64
}

var fixes = map[models.AdjustmentKind]fix{
	models.AdjustTooSalty: {
		bullets: []string{
			"Add an acid: a squeeze of lemon or a splash of vinegar cuts perceived salt",
			"Dilute with unsalted liquid (water, stock, or cream) and re-reduce gently",
			"For soups and stews, add a halved raw potato and simmer 10 minutes, then remove",
		},
		confidence: 0.8,
	},
	models.AdjustTooSpicy: {
		bullets: []string{
			"Stir in dairy (yogurt, cream, or coconut milk) to bind capsaicin",
			"Add a pinch of sugar or honey to round the heat",
			"Bulk out with more of the unseasoned base ingredients",
		},
		confidence: 0.8,
	},
	models.AdjustTooThick: {
		bullets: []string{
			"Whisk in hot liquid a few tablespoons at a time until it loosens",
			"Keep the heat low while thinning so the base doesn't scorch",
		},
		confidence: 0.85,
	},
	models.AdjustTooThin: {
		bullets: []string{
			"Simmer uncovered to reduce, stirring occasionally",
			"Or whisk 1 tbsp cornstarch with 2 tbsp cold water and stir in; simmer 1 minute",
		},
		confidence: 0.85,
	},
	models.AdjustBurning: {
		bullets: []string{
			"Pull the pan off the heat now and lower the burner",
			"Do not scrape the bottom; transfer to a clean pan if it smells acrid",
			"Add a splash of liquid to drop the pan temperature",
		},
		warnings:   []string{"If anything tastes burnt, don't stir the scorched layer in; transfer and move on"},
		confidence: 0.75,
	},
	models.AdjustNoBrowning: {
		bullets: []string{
			"Raise the heat and stop stirring; browning needs sustained contact",
			"Pat ingredients dry and work in smaller batches so the pan stays hot",
			"Make sure there's a thin film of fat across the pan",
		},
		confidence: 0.75,
	},
	models.AdjustUndercooked: {
		bullets: []string{
			"Return to heat and extend cooking in small increments, checking often",
			"Cover the pan to trap heat if the outside is done but the inside isn't",
		},
		warnings:   []string{"Verify doneness before serving; poultry should reach 165°F / 74°C"},
		confidence: 0.7,
	},
}

// KindLabel returns a short human label for display surfaces.
func KindLabel(kind models.AdjustmentKind) string {
	switch kind {
	case models.AdjustTooSalty:
		return "Too salty"
	case models.AdjustTooSpicy:
		return "Too spicy"
	case models.AdjustTooThick:
		return "Too thick"
	case models.AdjustTooThin:
		return "Too thin"
	case models.AdjustBurning:
		return "Burning"
	case models.AdjustNoBrowning:
		return "Not browning"
	case models.AdjustUndercooked:
		return "Undercooked"
	}
	return fmt.Sprintf("Adjustment (%s)", kind)
}
