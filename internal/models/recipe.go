package models

import "time"

// Ingredient is one line of a recipe's ingredient list. Quantities are
// scaled by servings_target/servings_base wherever displayed.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
}

// RecipeStep is a single instruction step: a title plus checklist bullets.
type RecipeStep struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
	// DurationSec is an explicit per-step time estimate (0 = none).
	// Timer suggestions use it before falling back to phrase detection.
	DurationSec int `json:"duration_sec,omitempty"`
}

// Recipe holds the collaborator data a cook session reads: canonical
// steps, base servings, and ingredients. The full recipe CRUD surface
// lives elsewhere; this is the minimum needed to cook against.
type Recipe struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	ServingsBase int          `json:"servings_base"`
	Steps        []RecipeStep `json:"steps"`
	Ingredients  []Ingredient `json:"ingredients,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
