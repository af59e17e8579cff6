package method

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/models"
)

func testRecipe() *models.Recipe {
	return &models.Recipe{
		ID:    "r1",
		Title: "Weeknight chicken",
		Steps: []models.RecipeStep{
			{
				Title:       "Fry the chicken in a skillet",
				Bullets:     []string{"Heat oil in the skillet", "Cook 10 minutes per side"},
				DurationSec: 1200,
			},
			{Title: "Rest and serve"},
		},
	}
}

func TestCompute_UnknownKey(t *testing.T) {
	_, err := Compute(testRecipe(), "microwave")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "microwave")
}

func TestCompute_InjectsPrepStep(t *testing.T) {
	pv, err := Compute(testRecipe(), "oven")
	require.NoError(t, err)

	require.Len(t, pv.Steps, 3, "oven adds a preheat step before the recipe's own")
	assert.Equal(t, "Preheat the oven", pv.Steps[0].Title)
	assert.Equal(t, "oven", pv.MethodKey)
}

func TestCompute_NoPrepStepForStovetop(t *testing.T) {
	pv, err := Compute(testRecipe(), "stovetop")
	require.NoError(t, err)
	assert.Len(t, pv.Steps, 2)
}

func TestCompute_ReplacesEquipmentTerms(t *testing.T) {
	pv, err := Compute(testRecipe(), "oven")
	require.NoError(t, err)

	main := pv.Steps[1]
	assert.Contains(t, main.Title, "baking dish")
	assert.NotContains(t, main.Title, "skillet")
	assert.Contains(t, main.Title, "roast")
	require.Len(t, main.Bullets, 2)
	assert.Contains(t, main.Bullets[0], "baking dish")
}

func TestCompute_ScalesDurations(t *testing.T) {
	pv, err := Compute(testRecipe(), "oven")
	require.NoError(t, err)

	main := pv.Steps[1]
	assert.Equal(t, 1440, main.DurationSec, "1200s scaled by the oven's 1.2 factor")
	assert.Contains(t, main.Bullets[1], "12 minutes", "inline duration phrases scale too")
}

func TestCompute_AirFryerShortens(t *testing.T) {
	pv, err := Compute(testRecipe(), "air_fryer")
	require.NoError(t, err)

	main := pv.Steps[1]
	assert.Equal(t, 840, main.DurationSec)
	assert.Contains(t, main.Bullets[1], "7 minutes")
}

func TestCompute_DurationFloor(t *testing.T) {
	recipe := &models.Recipe{
		Steps: []models.RecipeStep{{Title: "Quick sear", DurationSec: 60}},
	}
	pv, err := Compute(recipe, "pressure_cooker")
	require.NoError(t, err)
	assert.Equal(t, 30, pv.Steps[1].DurationSec, "scaled durations never drop below 30s")
}

func TestCompute_ZeroDurationStaysZero(t *testing.T) {
	pv, err := Compute(testRecipe(), "oven")
	require.NoError(t, err)
	assert.Equal(t, 0, pv.Steps[2].DurationSec)
}

func TestCompute_Deterministic(t *testing.T) {
	a, err := Compute(testRecipe(), "slow_cooker")
	require.NoError(t, err)
	b, err := Compute(testRecipe(), "slow_cooker")
	require.NoError(t, err)
	assert.Equal(t, a.Steps, b.Steps, "same recipe and key must yield the same steps")
	assert.Equal(t, a.Tradeoffs, b.Tradeoffs)
}

func TestCompute_Tradeoffs(t *testing.T) {
	pv, err := Compute(testRecipe(), "slow_cooker")
	require.NoError(t, err)
	assert.Equal(t, 180, pv.Tradeoffs.TimeDeltaMin)
	assert.Equal(t, "low", pv.Tradeoffs.Effort)
	assert.NotEmpty(t, pv.Tradeoffs.Risks)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, len(profiles))
	for _, k := range keys {
		_, ok := profiles[k]
		assert.True(t, ok, "key %q should have a profile", k)
	}
}
