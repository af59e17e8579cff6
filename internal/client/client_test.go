package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthware/cookd/internal/api"
	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/session"
	"github.com/hearthware/cookd/internal/store"
)

// newTestDaemon spins up the full API stack against a temp database and
// returns a client pointed at it.
func newTestDaemon(t *testing.T) (*Client, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cookd.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	broker := events.NewBroker()
	engine := session.NewEngine(st, broker, nil, nil)
	srv := httptest.NewServer(api.NewServer(st, engine, broker).Router())
	t.Cleanup(srv.Close)
	return New(srv.URL), st
}

func seedRecipe(t *testing.T, st *store.SQLiteStore) *models.Recipe {
	t.Helper()
	r := &models.Recipe{
		Title:        "Mushroom Risotto",
		ServingsBase: 4,
		Steps: []models.RecipeStep{
			{Title: "Prep", Bullets: []string{"Dice the onion", "Slice the mushrooms"}},
			{Title: "Simmer", Bullets: []string{"Simmer 18 minutes"}, DurationSec: 1080},
		},
	}
	require.NoError(t, st.CreateRecipe(context.Background(), r))
	return r
}

func TestClient_RecipeAndSessionRoundTrip(t *testing.T) {
	c, _ := newTestDaemon(t)
	ctx := context.Background()

	created, err := c.CreateRecipe(ctx, &models.Recipe{
		Title: "Focaccia",
		Steps: []models.RecipeStep{{Title: "Mix", Bullets: []string{"Combine"}}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := c.GetRecipe(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Focaccia", got.Title)

	list, err := c.ListRecipes(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	sess, err := c.StartSession(ctx, created.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.Version)
	assert.Equal(t, 2, sess.ServingsTarget)

	active, err := c.ActiveSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active.ID)

	done, err := c.CompleteSession(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, done.Status)

	completed, err := c.ListSessions(ctx, store.SessionListFilter{
		Statuses: []models.SessionStatus{models.SessionStatusCompleted},
	})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, sess.ID, completed[0].ID)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "servings must be positive"}`, http.StatusBadRequest)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/clash", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "session has ended"}`, http.StatusConflict)
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	err := c.do(ctx, http.MethodGet, "/bad", "", nil, nil)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "servings must be positive")

	err = c.do(ctx, http.MethodGet, "/missing", "", nil, nil)
	assert.True(t, errs.IsNotFound(err))

	err = c.do(ctx, http.MethodGet, "/clash", "", nil, nil)
	assert.True(t, errs.IsConflict(err))

	err = c.do(ctx, http.MethodGet, "/boom", "", nil, nil)
	assert.True(t, errs.IsTransient(err), "5xx is worth retrying")
}

func TestClient_UnreachableIsTransient(t *testing.T) {
	c := New("http://127.0.0.1:1")
	err := c.do(context.Background(), http.MethodGet, "/api/v1/status", "", nil, nil)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestClient_SendsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Patch(context.Background(), "s1", "req-42", map[string]any{"servings_target": 6})
	require.NoError(t, err)
	assert.Equal(t, "req-42", gotKey)
}

func TestIntentsToPatch(t *testing.T) {
	patch := intentsToPatch([]session.Intent{
		session.SetCurrentStep{Index: 2},
		session.CheckBullet{Step: 0, Bullet: 1, Checked: true},
		session.SetServings{Target: 6},
		session.CreateTimer{ClientID: "c-1", StepIndex: 1, Label: "Simmer", DurationSec: 600, Autostart: true},
		session.MarkStepComplete{Step: 0},
	})

	assert.Equal(t, 2, patch["current_step_index"])
	assert.Equal(t, 6, patch["servings_target"])
	assert.Equal(t, 0, patch["mark_step_complete"])

	checks := patch["checks"].([]map[string]any)
	require.Len(t, checks, 1)
	assert.Equal(t, true, checks[0]["checked"])

	timers := patch["timers"].([]map[string]any)
	require.Len(t, timers, 1)
	assert.Equal(t, "c-1", timers[0]["client_id"])
	assert.Equal(t, 600, timers[0]["duration_sec"])
}

func TestIntentsToPatch_OmitsAbsentGroups(t *testing.T) {
	patch := intentsToPatch([]session.Intent{session.SetServings{Target: 3}})
	assert.NotContains(t, patch, "checks")
	assert.NotContains(t, patch, "timers")
	assert.NotContains(t, patch, "timer_actions")
}
