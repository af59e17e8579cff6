package timer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hearthware/cookd/internal/models"
)

// Suggestion is a timer the engine derived from recipe step metadata.
// ClientID is deterministic per step so a bulk accept can name
// suggestions from an earlier listing, and so accepting one twice
// cannot create a duplicate timer.
type Suggestion struct {
	ClientID    string `json:"client_id"`
	StepIndex   int    `json:"step_index"`
	Label       string `json:"label"`
	DurationSec int    `json:"duration_sec"`
	Source      string `json:"source"` // "estimate" or "text"
}

// durationPhrase matches "10 minutes", "1 hour", "45 sec", "90 mins",
// and range forms like "8-10 minutes" (the upper bound wins: better a
// timer that runs long than one that fires early).
var durationPhrase = regexp.MustCompile(`(?i)\b(?:(\d+)\s*(?:-|–|\s+to\s+)\s*)?(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?)\b`)

// SuggestFromSteps derives timer suggestions from explicit per-step
// duration estimates and from duration phrases in step text. At most one
// suggestion per step; the explicit estimate wins over detected text.
func SuggestFromSteps(steps []models.RecipeStep) []Suggestion {
	var out []Suggestion
	for i, step := range steps {
		if step.DurationSec > 0 {
			out = append(out, Suggestion{
				ClientID:    suggestID(i),
				StepIndex:   i,
				Label:       stepLabel(step, i),
				DurationSec: step.DurationSec,
				Source:      "estimate",
			})
			continue
		}
		if sec := detectDuration(step.Title); sec > 0 {
			out = append(out, Suggestion{
				ClientID:    suggestID(i),
				StepIndex:   i,
				Label:       stepLabel(step, i),
				DurationSec: sec,
				Source:      "text",
			})
			continue
		}
		for _, b := range step.Bullets {
			if sec := detectDuration(b); sec > 0 {
				out = append(out, Suggestion{
					ClientID:    suggestID(i),
					StepIndex:   i,
					Label:       stepLabel(step, i),
					DurationSec: sec,
					Source:      "text",
				})
				break
			}
		}
	}
	return out
}

// detectDuration returns the duration in seconds implied by the first
// duration phrase in the text, or 0 when none is found.
func detectDuration(text string) int {
	m := durationPhrase.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return 0
	}
	unit := strings.ToLower(m[3])
	switch {
	case strings.HasPrefix(unit, "h"):
		return n * 3600
	case strings.HasPrefix(unit, "m"):
		return n * 60
	default:
		return n
	}
}

func suggestID(stepIndex int) string {
	return fmt.Sprintf("suggest-step-%d", stepIndex)
}

func stepLabel(step models.RecipeStep, index int) string {
	title := strings.TrimSpace(step.Title)
	if title == "" {
		return fmt.Sprintf("Step %d", index+1)
	}
	// First clause of the title reads best on a timer chip.
	if cut := strings.IndexAny(title, ",;."); cut > 0 {
		title = title[:cut]
	}
	return title
}
