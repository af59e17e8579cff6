// Package checklist derives step completion and progress from a session
// snapshot. It holds no state of its own: everything is computed from
// the session's step_checks map and the effective step list.
package checklist

import "github.com/hearthware/cookd/internal/models"

// EffectiveSteps returns the step list navigation and checklists operate
// against: the session's override when one is in effect, whether it came
// from a method or from adjustments, otherwise the recipe's canonical
// steps.
func EffectiveSteps(sess *models.CookSession, recipe *models.Recipe) []models.RecipeStep {
	if sess.StepsOverride != nil {
		return sess.StepsOverride
	}
	return recipe.Steps
}

// IsStepComplete reports whether every bullet under the step is checked.
// A step with zero bullets is complete by definition once visited.
// Out-of-range indices are never complete.
func IsStepComplete(sess *models.CookSession, steps []models.RecipeStep, stepIndex int) bool {
	if stepIndex < 0 || stepIndex >= len(steps) {
		return false
	}
	bullets := steps[stepIndex].Bullets
	if len(bullets) == 0 {
		return sess.CurrentStepIndex >= stepIndex
	}
	for b := range bullets {
		if !sess.Checked(stepIndex, b) {
			return false
		}
	}
	return true
}

// ProgressPercent is a display-only measure of how far through the step
// list the cursor is, clamped to [0,100]. It never gates navigation.
func ProgressPercent(sess *models.CookSession, steps []models.RecipeStep) int {
	if len(steps) == 0 {
		return 0
	}
	pct := ((sess.CurrentStepIndex+1)*100 + len(steps)/2) / len(steps)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// CheckedBullets counts checked bullets that exist in the effective step
// list. Stale entries from a prior step-list shape are ignored.
func CheckedBullets(sess *models.CookSession, steps []models.RecipeStep) (checked, total int) {
	for i, step := range steps {
		total += len(step.Bullets)
		for b := range step.Bullets {
			if sess.Checked(i, b) {
				checked++
			}
		}
	}
	return checked, total
}
