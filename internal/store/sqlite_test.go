package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/models"
)

// newTestStore creates a migrated SQLite store in a temp directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cookd.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRecipe(t *testing.T, s *SQLiteStore) *models.Recipe {
	t.Helper()
	r := &models.Recipe{
		Title:        "Mushroom Risotto",
		ServingsBase: 4,
		Steps: []models.RecipeStep{
			{Title: "Prep", Bullets: []string{"Dice the onion", "Slice the mushrooms"}},
			{Title: "Simmer", Bullets: []string{"Simmer 18 minutes"}, DurationSec: 1080},
		},
		Ingredients: []models.Ingredient{
			{Name: "arborio rice", Quantity: 300, Unit: "g"},
		},
	}
	require.NoError(t, s.CreateRecipe(context.Background(), r))
	return r
}

func seedSession(t *testing.T, s *SQLiteStore, recipeID string) *models.CookSession {
	t.Helper()
	sess := &models.CookSession{
		RecipeID:       recipeID,
		ServingsBase:   4,
		ServingsTarget: 4,
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

// --- Recipes ---

func TestRecipeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)
	require.NotEmpty(t, r.ID, "CreateRecipe should assign an id")

	got, err := s.GetRecipe(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Title, got.Title)
	assert.Equal(t, r.Steps, got.Steps)
	assert.Equal(t, r.Ingredients, got.Ingredients)
	assert.Equal(t, 4, got.ServingsBase)
}

func TestGetRecipe_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecipe(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestCreateRecipe_DefaultServings(t *testing.T) {
	s := newTestStore(t)
	r := &models.Recipe{Title: "Toast", Steps: []models.RecipeStep{{Title: "Toast it"}}}
	require.NoError(t, s.CreateRecipe(context.Background(), r))
	assert.Equal(t, 1, r.ServingsBase)
}

func TestListRecipes_OrderedByTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"Zuppa", "Arepas", "Miso soup"} {
		require.NoError(t, s.CreateRecipe(ctx, &models.Recipe{Title: title}))
	}

	recipes, err := s.ListRecipes(ctx)
	require.NoError(t, err)
	require.Len(t, recipes, 3)
	assert.Equal(t, "Arepas", recipes[0].Title)
	assert.Equal(t, "Zuppa", recipes[2].Title)
}

func TestDeleteRecipe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)
	require.NoError(t, s.DeleteRecipe(ctx, r.ID))

	_, err := s.GetRecipe(ctx, r.ID)
	assert.True(t, errs.IsNotFound(err))

	err = s.DeleteRecipe(ctx, r.ID)
	assert.True(t, errs.IsNotFound(err))
}

// --- Sessions ---

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)
	sess := seedSession(t, s, r.ID)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, int64(1), sess.Version)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.Equal(t, models.AutoStepModeSuggest, sess.AutoStepMode)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, r.ID, got.RecipeID)
	assert.NotNil(t, got.StepChecks)
	assert.NotNil(t, got.Timers)
	assert.Empty(t, got.AdjustmentsLog)
}

func TestGetActiveSessionByRecipe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)
	_, err := s.GetActiveSessionByRecipe(ctx, r.ID)
	assert.True(t, errs.IsNotFound(err), "no session yet")

	sess := seedSession(t, s, r.ID)
	got, err := s.GetActiveSessionByRecipe(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	// Ending the session removes it from the active lookup.
	ended := time.Now().UTC()
	got.Status = models.SessionStatusCompleted
	got.EndedAt = &ended
	require.NoError(t, s.UpdateSession(ctx, got))

	_, err = s.GetActiveSessionByRecipe(ctx, r.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdateSession_BumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)
	sess := seedSession(t, s, r.ID)

	sess.CurrentStepIndex = 1
	sess.SetChecked(0, 0, true)
	require.NoError(t, s.UpdateSession(ctx, sess))
	assert.Equal(t, int64(2), sess.Version)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.True(t, got.Checked(0, 0))
}

func TestUpdateSession_StaleVersionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)
	sess := seedSession(t, s, r.ID)

	// Two readers grab the same snapshot.
	a, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	b, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	a.CurrentStepIndex = 1
	require.NoError(t, s.UpdateSession(ctx, a))

	b.CurrentStepIndex = 0
	err = s.UpdateSession(ctx, b)
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err), "stale write must surface, not silently lose the update")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStepIndex)
}

func TestUpdateSession_Missing(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSession(context.Background(), &models.CookSession{ID: "ghost", Version: 1})
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestSessionJSONColumnsSurviveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)
	sess := seedSession(t, s, r.ID)

	started := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	sess.Timers = map[string]*models.Timer{
		"t1": {ID: "t1", StepIndex: 1, Label: "Simmer", DurationSec: 1080, State: models.TimerStateRunning, StartedAt: &started, CreatedAt: started},
	}
	sess.MethodKey = "oven"
	sess.StepsOverride = []models.RecipeStep{{Title: "Preheat the oven"}}
	sess.MethodTradeoffs = &models.MethodTradeoffs{TimeDeltaMin: 10, Effort: "low", Cleanup: "low"}
	sess.AdjustmentsLog = []models.Adjustment{{ID: "a1", Kind: models.AdjustTooSalty, Title: "Fix", PrevTitle: "Simmer", AppliedAt: started}}
	idx := 1
	sess.AutoStepEnabled = true
	sess.AutoStepSuggestedIndex = &idx
	sess.AutoStepConfidence = 0.9
	require.NoError(t, s.UpdateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Contains(t, got.Timers, "t1")
	assert.Equal(t, models.TimerStateRunning, got.Timers["t1"].State)
	require.NotNil(t, got.Timers["t1"].StartedAt)
	assert.True(t, got.Timers["t1"].StartedAt.Equal(started))
	assert.True(t, got.MethodApplied())
	require.NotNil(t, got.MethodTradeoffs)
	assert.Equal(t, 10, got.MethodTradeoffs.TimeDeltaMin)
	require.Len(t, got.AdjustmentsLog, 1)
	assert.Equal(t, models.AdjustTooSalty, got.AdjustmentsLog[0].Kind)
	require.NotNil(t, got.AutoStepSuggestedIndex)
	assert.Equal(t, 1, *got.AutoStepSuggestedIndex)
}

func TestListSessions_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := seedRecipe(t, s)
	r2 := &models.Recipe{Title: "Focaccia"}
	require.NoError(t, s.CreateRecipe(ctx, r2))

	s1 := seedSession(t, s, r1.ID)
	s2 := seedSession(t, s, r2.ID)

	ended := time.Now().UTC()
	s2.Status = models.SessionStatusCompleted
	s2.EndedAt = &ended
	require.NoError(t, s.UpdateSession(ctx, s2))

	byRecipe, err := s.ListSessions(ctx, SessionListFilter{RecipeID: r1.ID})
	require.NoError(t, err)
	require.Len(t, byRecipe, 1)
	assert.Equal(t, s1.ID, byRecipe[0].ID)

	byStatus, err := s.ListSessions(ctx, SessionListFilter{Statuses: []models.SessionStatus{models.SessionStatusCompleted}})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, s2.ID, byStatus[0].ID)

	all, err := s.ListSessions(ctx, SessionListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	limited, err := s.ListSessions(ctx, SessionListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteStaleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := seedRecipe(t, s)

	// Abandoned immediately on step 0: stale.
	stale := seedSession(t, s, r.ID)
	ended := time.Now().UTC()
	stale.Status = models.SessionStatusAbandoned
	stale.EndedAt = &ended
	require.NoError(t, s.UpdateSession(ctx, stale))

	// Abandoned but progressed: kept as history.
	kept := seedSession(t, s, r.ID)
	kept.Status = models.SessionStatusAbandoned
	kept.CurrentStepIndex = 1
	kept.EndedAt = &ended
	require.NoError(t, s.UpdateSession(ctx, kept))

	n, err := s.DeleteStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, stale.ID)
	assert.True(t, errs.IsNotFound(err))
	_, err = s.GetSession(ctx, kept.ID)
	assert.NoError(t, err)
}

// --- Idempotency ---

func TestRememberRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen, err := s.RememberRequest(ctx, "key-1", "sess-1")
	require.NoError(t, err)
	assert.False(t, seen, "first use of a key is fresh")

	seen, err = s.RememberRequest(ctx, "key-1", "sess-1")
	require.NoError(t, err)
	assert.True(t, seen, "repeated key must be flagged for replay")

	seen, err = s.RememberRequest(ctx, "key-2", "sess-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestForgetRequest_ReleasesKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RememberRequest(ctx, "key-1", "sess-1")
	require.NoError(t, err)
	require.NoError(t, s.ForgetRequest(ctx, "key-1", "sess-1"))

	seen, err := s.RememberRequest(ctx, "key-1", "sess-1")
	require.NoError(t, err)
	assert.False(t, seen, "a released key is fresh again")

	// Forgetting an unknown key is harmless.
	assert.NoError(t, s.ForgetRequest(ctx, "never-used", "sess-1"))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
