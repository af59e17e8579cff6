package models

import "time"

// SessionStatus represents the state of a cook session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Terminal reports whether the status is one-way final.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// AutoStepMode controls how automatic step detection behaves. In
// suggest mode the hint is advisory only; auto_jump may move the cursor.
type AutoStepMode string

const (
	AutoStepModeSuggest  AutoStepMode = "suggest"
	AutoStepModeAutoJump AutoStepMode = "auto_jump"
)

// TimerState represents the lifecycle state of a session timer.
type TimerState string

const (
	TimerStateCreated TimerState = "created"
	TimerStateRunning TimerState = "running"
	TimerStatePaused  TimerState = "paused"
	TimerStateDone    TimerState = "done"
)

// Timer is a named countdown bound to a session and a recipe step.
// Time accounting derives from StartedAt + ElapsedSec, never from a
// client-side interval counter, so a reload reconstructs remaining time
// from these fields alone.
type Timer struct {
	ID          string     `json:"id"`
	StepIndex   int        `json:"step_index"`
	BulletIndex *int       `json:"bullet_index,omitempty"`
	Label       string     `json:"label"`
	DurationSec int        `json:"duration_sec"`
	State       TimerState `json:"state"`
	// StartedAt is the wall clock of the most recent start/resume;
	// nil unless running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// ElapsedSec accumulates completed running intervals so pause/resume
	// accounting stays correct.
	ElapsedSec  int        `json:"elapsed_sec,omitempty"`
	AutoStarted bool       `json:"auto_started,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// AdjustmentKind is the situational reason for a fix-it rewrite.
type AdjustmentKind string

const (
	AdjustTooSalty    AdjustmentKind = "too_salty"
	AdjustTooSpicy    AdjustmentKind = "too_spicy"
	AdjustTooThick    AdjustmentKind = "too_thick"
	AdjustTooThin     AdjustmentKind = "too_thin"
	AdjustBurning     AdjustmentKind = "burning"
	AdjustNoBrowning  AdjustmentKind = "no_browning"
	AdjustUndercooked AdjustmentKind = "undercooked"
)

// AdjustmentKinds lists all supported kinds in display order.
var AdjustmentKinds = []AdjustmentKind{
	AdjustTooSalty, AdjustTooSpicy, AdjustTooThick, AdjustTooThin,
	AdjustBurning, AdjustNoBrowning, AdjustUndercooked,
}

// ValidAdjustmentKind reports whether k is a known kind.
func ValidAdjustmentKind(k AdjustmentKind) bool {
	for _, kind := range AdjustmentKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Adjustment is an applied fix-it rewrite of one step. The prior step
// content is captured so undo can restore it exactly.
type Adjustment struct {
	ID        string         `json:"id"`
	StepIndex int            `json:"step_index"`
	// BulletIndex narrows the problem to one bullet of the step, when
	// the client knows it. Rewrites still replace the whole step.
	BulletIndex *int           `json:"bullet_index,omitempty"`
	Kind        AdjustmentKind `json:"kind"`
	Title      string         `json:"title"`
	Bullets    []string       `json:"bullets"`
	Warnings   []string       `json:"warnings,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source"` // "heuristic" or "llm"
	PrevTitle  string         `json:"prev_title"`
	PrevBullets []string      `json:"prev_bullets"`
	AppliedAt  time.Time      `json:"applied_at"`
}

// MethodTradeoffs summarizes the cost/benefit of an alternate method.
type MethodTradeoffs struct {
	TimeDeltaMin int      `json:"time_delta_min"`
	Effort       string   `json:"effort"`
	Cleanup      string   `json:"cleanup"`
	TextureNotes []string `json:"texture_notes,omitempty"`
	Risks        []string `json:"risks,omitempty"`
}

// CookSession is the aggregate root for one cooking attempt of one
// recipe. It is mutated exclusively through the session engine, which
// bumps Version on every write; clients merge snapshots by comparing
// versions so a stale response never rolls rendered state backward.
type CookSession struct {
	ID       string        `json:"id"`
	RecipeID string        `json:"recipe_id"`
	Status   SessionStatus `json:"status"`
	Version  int64         `json:"version"`

	CurrentStepIndex int `json:"current_step_index"`
	ServingsBase     int `json:"servings_base"`
	ServingsTarget   int `json:"servings_target"`

	// StepChecks maps step index -> bullet index -> checked. Absent
	// entries mean unchecked. Indices stale after an override change are
	// tolerated and simply never referenced by the effective step list.
	StepChecks map[int]map[int]bool `json:"step_checks"`

	Timers map[string]*Timer `json:"timers"`

	// Method override fields are present together or all absent.
	MethodKey         string           `json:"method_key,omitempty"`
	StepsOverride     []RecipeStep     `json:"steps_override,omitempty"`
	MethodTradeoffs   *MethodTradeoffs `json:"method_tradeoffs,omitempty"`
	MethodGeneratedAt *time.Time       `json:"method_generated_at,omitempty"`

	AdjustmentsLog []Adjustment `json:"adjustments_log"`

	AutoStepEnabled        bool         `json:"auto_step_enabled"`
	AutoStepMode           AutoStepMode `json:"auto_step_mode"`
	AutoStepSuggestedIndex *int         `json:"auto_step_suggested_index,omitempty"`
	AutoStepConfidence     float64      `json:"auto_step_confidence,omitempty"`
	AutoStepReason         string       `json:"auto_step_reason,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// MethodApplied reports whether an alternate step list is in effect.
func (s *CookSession) MethodApplied() bool {
	return s.MethodKey != "" && s.StepsOverride != nil
}

// Checked reports the checked state for a (step, bullet) pair.
func (s *CookSession) Checked(step, bullet int) bool {
	if s.StepChecks == nil {
		return false
	}
	return s.StepChecks[step][bullet]
}

// SetChecked is an idempotent set (not a toggle), so two in-flight
// patches for the same key cannot lose an update.
func (s *CookSession) SetChecked(step, bullet int, checked bool) {
	if s.StepChecks == nil {
		s.StepChecks = make(map[int]map[int]bool)
	}
	if s.StepChecks[step] == nil {
		s.StepChecks[step] = make(map[int]bool)
	}
	s.StepChecks[step][bullet] = checked
}

// Clone returns a deep copy of the session. The client's optimistic
// layer mutates copies, never the rendered snapshot in place.
func (s *CookSession) Clone() *CookSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.StepChecks != nil {
		out.StepChecks = make(map[int]map[int]bool, len(s.StepChecks))
		for step, bullets := range s.StepChecks {
			m := make(map[int]bool, len(bullets))
			for b, v := range bullets {
				m[b] = v
			}
			out.StepChecks[step] = m
		}
	}
	if s.Timers != nil {
		out.Timers = make(map[string]*Timer, len(s.Timers))
		for id, t := range s.Timers {
			tc := *t
			out.Timers[id] = &tc
		}
	}
	out.StepsOverride = append([]RecipeStep(nil), s.StepsOverride...)
	out.AdjustmentsLog = append([]Adjustment(nil), s.AdjustmentsLog...)
	if s.MethodTradeoffs != nil {
		mt := *s.MethodTradeoffs
		out.MethodTradeoffs = &mt
	}
	return &out
}
