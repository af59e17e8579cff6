// Package method produces alternate, equipment-driven step lists for a
// recipe. Preview is a pure computation; the session engine owns
// committing the result as a steps_override.
package method

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/models"
)

// Preview is the result of computing an alternate method: the
// replacement step list plus its cost/benefit summary.
type Preview struct {
	MethodKey   string                 `json:"method_key"`
	Steps       []models.RecipeStep    `json:"steps_preview"`
	Tradeoffs   models.MethodTradeoffs `json:"tradeoffs"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// profile describes how one equipment method transforms canonical steps.
type profile struct {
	label          string
	durationFactor float64
	prepStep       *models.RecipeStep
	replacements   map[string]string
	tradeoffs      models.MethodTradeoffs
}

var profiles = map[string]profile{
	"oven": {
		label:          "Oven",
		durationFactor: 1.2,
		prepStep: &models.RecipeStep{
			Title:   "Preheat the oven",
			Bullets: []string{"Set the oven to the temperature the recipe calls for", "Position a rack in the center"},
		},
		replacements: map[string]string{
			"skillet": "baking dish", "pan": "baking dish", "stovetop": "oven",
			"fry": "roast", "sauté": "roast", "saute": "roast",
		},
		tradeoffs: models.MethodTradeoffs{
			TimeDeltaMin: 10,
			Effort:       "low",
			Cleanup:      "low",
			TextureNotes: []string{"More even cooking, less surface browning than a hot pan"},
			Risks:        []string{"Easy to overshoot doneness without checking"},
		},
	},
	"stovetop": {
		label:          "Stovetop",
		durationFactor: 0.9,
		replacements: map[string]string{
			"oven": "skillet", "baking dish": "skillet", "bake": "cook over medium heat",
			"roast": "sear", "air fryer": "skillet",
		},
		tradeoffs: models.MethodTradeoffs{
			TimeDeltaMin: -5,
			Effort:       "medium",
			Cleanup:      "medium",
			TextureNotes: []string{"Better browning and fond development"},
			Risks:        []string{"Needs active attention; hot spots can scorch"},
		},
	},
	"air_fryer": {
		label:          "Air fryer",
		durationFactor: 0.7,
		prepStep: &models.RecipeStep{
			Title:   "Preheat the air fryer",
			Bullets: []string{"Run the air fryer empty for 3 minutes", "Work in batches if the basket is crowded"},
		},
		replacements: map[string]string{
			"oven": "air fryer", "baking sheet": "air fryer basket", "baking dish": "air fryer basket",
			"bake": "air fry", "roast": "air fry",
		},
		tradeoffs: models.MethodTradeoffs{
			TimeDeltaMin: -12,
			Effort:       "low",
			Cleanup:      "low",
			TextureNotes: []string{"Crispier exterior", "Drier surface; brush with oil"},
			Risks:        []string{"Small capacity, crowding steams instead of crisping"},
		},
	},
	"slow_cooker": {
		label:          "Slow cooker",
		durationFactor: 6.0,
		prepStep: &models.RecipeStep{
			Title:   "Set up the slow cooker",
			Bullets: []string{"Brown aromatics on the stovetop first for deeper flavor", "Reduce added liquid by a third; little evaporates"},
		},
		replacements: map[string]string{
			"oven": "slow cooker", "pot": "slow cooker", "simmer": "cook on low",
			"bake": "cook on low",
		},
		tradeoffs: models.MethodTradeoffs{
			TimeDeltaMin: 180,
			Effort:       "low",
			Cleanup:      "low",
			TextureNotes: []string{"Fall-apart tender", "Sauces come out thinner"},
			Risks:        []string{"No browning happens in the cooker itself"},
		},
	},
	"pressure_cooker": {
		label:          "Pressure cooker",
		durationFactor: 0.4,
		prepStep: &models.RecipeStep{
			Title:   "Set up the pressure cooker",
			Bullets: []string{"Use at least 1 cup of liquid so it can pressurize", "Plan for 10 extra minutes to come to pressure"},
		},
		replacements: map[string]string{
			"oven": "pressure cooker", "pot": "pressure cooker", "simmer": "pressure cook",
			"bake": "pressure cook",
		},
		tradeoffs: models.MethodTradeoffs{
			TimeDeltaMin: -40,
			Effort:       "medium",
			Cleanup:      "medium",
			TextureNotes: []string{"Very tender, flavors less concentrated than a long simmer"},
			Risks:        []string{"Cannot check or adjust mid-cook", "Easy to overcook delicate vegetables"},
		},
	},
}

// Keys lists the supported method keys in stable order.
func Keys() []string {
	return []string{"oven", "stovetop", "air_fryer", "slow_cooker", "pressure_cooker"}
}

var phraseNumber = regexp.MustCompile(`(?i)\b(\d+)(\s*)(hours?|hrs?|minutes?|mins?)\b`)

// Compute builds the alternate step list for the given method key. It is
// pure: the same recipe and key always produce the same steps, and no
// session state is touched.
func Compute(recipe *models.Recipe, methodKey string) (*Preview, error) {
	p, ok := profiles[methodKey]
	if !ok {
		return nil, errs.Validation("unknown method %q (supported: %s)", methodKey, strings.Join(Keys(), ", "))
	}

	var steps []models.RecipeStep
	if p.prepStep != nil {
		steps = append(steps, *p.prepStep)
	}
	for _, step := range recipe.Steps {
		out := models.RecipeStep{
			Title:       rewriteText(step.Title, p),
			DurationSec: scaleDuration(step.DurationSec, p.durationFactor),
		}
		for _, b := range step.Bullets {
			out.Bullets = append(out.Bullets, rewriteText(b, p))
		}
		steps = append(steps, out)
	}

	return &Preview{
		MethodKey:   methodKey,
		Steps:       steps,
		Tradeoffs:   p.tradeoffs,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func scaleDuration(sec int, factor float64) int {
	if sec <= 0 {
		return 0
	}
	scaled := int(float64(sec) * factor)
	if scaled < 30 {
		scaled = 30
	}
	return scaled
}

// rewriteText swaps equipment terms and scales inline duration phrases.
func rewriteText(text string, p profile) string {
	out := text
	for from, to := range p.replacements {
		out = replaceInsensitive(out, from, to)
	}
	out = phraseNumber.ReplaceAllStringFunc(out, func(m string) string {
		sub := phraseNumber.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return m
		}
		unit := strings.ToLower(sub[3])
		minutes := n
		if strings.HasPrefix(unit, "h") {
			minutes = n * 60
		}
		scaled := int(float64(minutes)*p.durationFactor + 0.5)
		if scaled < 1 {
			scaled = 1
		}
		if scaled >= 60 && scaled%60 == 0 {
			return fmt.Sprintf("%d%shours", scaled/60, sub[2])
		}
		return fmt.Sprintf("%d%sminutes", scaled, sub[2])
	})
	return out
}

// replaceInsensitive replaces whole-word, case-insensitive occurrences.
func replaceInsensitive(s, from, to string) string {
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
	if err != nil {
		return s
	}
	return re.ReplaceAllString(s, to)
}
