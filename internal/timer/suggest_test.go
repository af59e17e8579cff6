package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthware/cookd/internal/models"
)

func TestSuggestFromSteps_ExplicitEstimateWins(t *testing.T) {
	steps := []models.RecipeStep{
		{Title: "Simmer for 20 minutes", DurationSec: 900},
	}
	out := SuggestFromSteps(steps)
	require.Len(t, out, 1)
	assert.Equal(t, 900, out[0].DurationSec, "explicit estimate beats detected text")
	assert.Equal(t, "estimate", out[0].Source)
}

func TestSuggestFromSteps_DetectsPhrases(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"Simmer for 10 minutes", 600},
		{"Bake 1 hour", 3600},
		{"Rest 45 sec", 45},
		{"Cook for 90 mins", 5400},
		{"Roast for 2 hrs", 7200},
	}
	for _, tc := range cases {
		out := SuggestFromSteps([]models.RecipeStep{{Title: tc.text}})
		require.Len(t, out, 1, "text: %s", tc.text)
		assert.Equal(t, tc.want, out[0].DurationSec, "text: %s", tc.text)
		assert.Equal(t, "text", out[0].Source)
	}
}

func TestSuggestFromSteps_RangeUsesUpperBound(t *testing.T) {
	out := SuggestFromSteps([]models.RecipeStep{
		{Title: "Sauté the onions, 8-10 minutes"},
		{Title: "Simmer 5 to 7 minutes"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, 600, out[0].DurationSec)
	assert.Equal(t, 420, out[1].DurationSec)
}

func TestSuggestFromSteps_BulletFallback(t *testing.T) {
	steps := []models.RecipeStep{
		{
			Title:   "Cook the rice",
			Bullets: []string{"Rinse the rice", "Simmer covered for 18 minutes"},
		},
	}
	out := SuggestFromSteps(steps)
	require.Len(t, out, 1)
	assert.Equal(t, 18*60, out[0].DurationSec)
}

func TestSuggestFromSteps_AtMostOnePerStep(t *testing.T) {
	steps := []models.RecipeStep{
		{
			Title:   "Simmer 10 minutes",
			Bullets: []string{"Then rest 5 minutes"},
		},
	}
	out := SuggestFromSteps(steps)
	require.Len(t, out, 1)
	assert.Equal(t, 600, out[0].DurationSec, "title match should win over bullets")
}

func TestSuggestFromSteps_NoDuration(t *testing.T) {
	out := SuggestFromSteps([]models.RecipeStep{
		{Title: "Season to taste", Bullets: []string{"Add salt", "Add pepper"}},
	})
	assert.Empty(t, out)
}

func TestSuggestFromSteps_DeterministicClientIDs(t *testing.T) {
	steps := []models.RecipeStep{
		{Title: "Prep"},
		{Title: "Simmer 10 minutes"},
	}
	first := SuggestFromSteps(steps)
	second := SuggestFromSteps(steps)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ClientID, second[0].ClientID,
		"ids must be stable so a later bulk accept can reference an earlier listing")
	assert.Equal(t, "suggest-step-1", first[0].ClientID)
}

func TestSuggestFromSteps_Labels(t *testing.T) {
	steps := []models.RecipeStep{
		{Title: "Simmer the sauce, stirring occasionally, 10 minutes"},
		{Title: "", DurationSec: 120},
	}
	out := SuggestFromSteps(steps)
	require.Len(t, out, 2)
	assert.Equal(t, "Simmer the sauce", out[0].Label, "label should be the first clause")
	assert.Equal(t, "Step 2", out[1].Label)
}
