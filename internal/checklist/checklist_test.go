package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthware/cookd/internal/models"
)

func testRecipe() *models.Recipe {
	return &models.Recipe{
		ID:    "r1",
		Title: "Test",
		Steps: []models.RecipeStep{
			{Title: "Prep", Bullets: []string{"a", "b"}},
			{Title: "Rest"},
			{Title: "Serve", Bullets: []string{"c"}},
		},
	}
}

func TestEffectiveSteps_Canonical(t *testing.T) {
	recipe := testRecipe()
	sess := &models.CookSession{}
	assert.Equal(t, recipe.Steps, EffectiveSteps(sess, recipe))
}

func TestEffectiveSteps_Override(t *testing.T) {
	recipe := testRecipe()
	override := []models.RecipeStep{{Title: "One-pot everything"}}
	sess := &models.CookSession{MethodKey: "one_pot", StepsOverride: override}
	assert.Equal(t, override, EffectiveSteps(sess, recipe))
}

func TestEffectiveSteps_AdjustmentsWithoutMethod(t *testing.T) {
	recipe := testRecipe()
	override := []models.RecipeStep{{Title: "Prep, less salt"}, {Title: "Rest"}, {Title: "Serve"}}
	sess := &models.CookSession{StepsOverride: override}
	assert.Equal(t, override, EffectiveSteps(sess, recipe))
}

func TestIsStepComplete_AllBulletsChecked(t *testing.T) {
	recipe := testRecipe()
	sess := &models.CookSession{}

	assert.False(t, IsStepComplete(sess, recipe.Steps, 0))
	sess.SetChecked(0, 0, true)
	assert.False(t, IsStepComplete(sess, recipe.Steps, 0), "one of two bullets is not complete")
	sess.SetChecked(0, 1, true)
	assert.True(t, IsStepComplete(sess, recipe.Steps, 0))

	sess.SetChecked(0, 1, false)
	assert.False(t, IsStepComplete(sess, recipe.Steps, 0), "unchecking reverses completion")
}

func TestIsStepComplete_ZeroBulletsCompleteOnceVisited(t *testing.T) {
	recipe := testRecipe()

	sess := &models.CookSession{CurrentStepIndex: 0}
	assert.False(t, IsStepComplete(sess, recipe.Steps, 1), "not yet visited")

	sess.CurrentStepIndex = 1
	assert.True(t, IsStepComplete(sess, recipe.Steps, 1))
	sess.CurrentStepIndex = 2
	assert.True(t, IsStepComplete(sess, recipe.Steps, 1), "stays complete after moving past")
}

func TestIsStepComplete_OutOfRange(t *testing.T) {
	recipe := testRecipe()
	sess := &models.CookSession{CurrentStepIndex: 2}
	assert.False(t, IsStepComplete(sess, recipe.Steps, -1))
	assert.False(t, IsStepComplete(sess, recipe.Steps, 3))
}

func TestProgressPercent(t *testing.T) {
	steps := testRecipe().Steps // 3 steps

	cases := []struct {
		cursor int
		want   int
	}{
		{0, 33},
		{1, 67},
		{2, 100},
	}
	for _, tc := range cases {
		sess := &models.CookSession{CurrentStepIndex: tc.cursor}
		assert.Equal(t, tc.want, ProgressPercent(sess, steps), "cursor %d", tc.cursor)
	}
}

func TestProgressPercent_Clamped(t *testing.T) {
	steps := testRecipe().Steps

	assert.Equal(t, 0, ProgressPercent(&models.CookSession{CurrentStepIndex: -5}, steps))
	assert.Equal(t, 100, ProgressPercent(&models.CookSession{CurrentStepIndex: 99}, steps))
	assert.Equal(t, 0, ProgressPercent(&models.CookSession{}, nil))
}

func TestCheckedBullets_IgnoresStaleEntries(t *testing.T) {
	recipe := testRecipe()
	sess := &models.CookSession{}
	sess.SetChecked(0, 0, true)
	// Entries from a prior step-list shape: step 5 and bullet 9 do not
	// exist in the effective list and must not count.
	sess.SetChecked(5, 0, true)
	sess.SetChecked(0, 9, true)

	checked, total := CheckedBullets(sess, recipe.Steps)
	assert.Equal(t, 1, checked)
	assert.Equal(t, 3, total)
}
