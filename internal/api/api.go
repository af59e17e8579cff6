package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/session"
	"github.com/hearthware/cookd/internal/store"
	"github.com/hearthware/cookd/internal/timer"
)

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	engine *session.Engine
	broker *events.Broker
}

// NewServer creates a new API server.
func NewServer(s store.Store, engine *session.Engine, broker *events.Broker) *Server {
	return &Server{
		store:  s,
		engine: engine,
		broker: broker,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/recipes", s.listRecipes)
	mux.HandleFunc("POST /api/v1/recipes", s.createRecipe)
	mux.HandleFunc("GET /api/v1/recipes/{id}", s.getRecipe)
	mux.HandleFunc("DELETE /api/v1/recipes/{id}", s.deleteRecipe)

	mux.HandleFunc("POST /api/v1/sessions", s.startSession)
	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/active", s.activeSession)
	mux.HandleFunc("DELETE /api/v1/sessions/cleanup", s.cleanupSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", s.patchSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/complete", s.completeSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/abandon", s.abandonSession)

	mux.HandleFunc("POST /api/v1/sessions/{id}/method/preview", s.previewMethod)
	mux.HandleFunc("POST /api/v1/sessions/{id}/method/apply", s.applyMethod)
	mux.HandleFunc("POST /api/v1/sessions/{id}/method/reset", s.resetMethod)

	mux.HandleFunc("POST /api/v1/sessions/{id}/adjust/preview", s.previewAdjustment)
	mux.HandleFunc("POST /api/v1/sessions/{id}/adjust/apply", s.applyAdjustment)
	mux.HandleFunc("POST /api/v1/sessions/{id}/adjust/undo", s.undoAdjustment)

	mux.HandleFunc("GET /api/v1/sessions/{id}/timers/suggested", s.timerSuggestions)
	mux.HandleFunc("POST /api/v1/sessions/{id}/timers/from-suggested", s.createSuggestedTimers)
	mux.HandleFunc("POST /api/v1/sessions/{id}/timers", s.createTimer)
	mux.HandleFunc("POST /api/v1/sessions/{id}/timers/{timer_id}/action", s.timerAction)

	mux.HandleFunc("GET /api/v1/sessions/{id}/next", s.nextAction)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", s.streamEvents)

	mux.HandleFunc("GET /api/v1/status", s.status)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps the error taxonomy onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errs.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errs.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func idemKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

// --- Recipes ---

func (s *Server) listRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := s.store.ListRecipes(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if recipes == nil {
		recipes = []*models.Recipe{}
	}
	writeJSON(w, http.StatusOK, recipes)
}

func (s *Server) createRecipe(w http.ResponseWriter, r *http.Request) {
	var recipe models.Recipe
	if err := json.NewDecoder(r.Body).Decode(&recipe); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(recipe.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if len(recipe.Steps) == 0 {
		writeError(w, http.StatusBadRequest, "at least one step is required")
		return
	}
	if recipe.ServingsBase <= 0 {
		recipe.ServingsBase = 1
	}
	if err := s.store.CreateRecipe(r.Context(), &recipe); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recipe)
}

func (s *Server) getRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := s.store.GetRecipe(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (s *Server) deleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRecipe(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sessions ---

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipeID       string `json:"recipe_id"`
		ServingsTarget int    `json:"servings_target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RecipeID == "" {
		writeError(w, http.StatusBadRequest, "recipe_id is required")
		return
	}
	sess, err := s.engine.Start(r.Context(), req.RecipeID, req.ServingsTarget)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionListFilter{
		RecipeID: r.URL.Query().Get("recipe_id"),
		Limit:    50,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			st = strings.TrimSpace(st)
			if st != "" {
				filter.Statuses = append(filter.Statuses, models.SessionStatus(st))
			}
		}
	}
	sessions, err := s.engine.List(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.CookSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) activeSession(w http.ResponseWriter, r *http.Request) {
	recipeID := r.URL.Query().Get("recipe_id")
	if recipeID == "" {
		writeError(w, http.StatusBadRequest, "recipe_id is required")
		return
	}
	sess, err := s.engine.ActiveForRecipe(r.Context(), recipeID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// patchRequest is the flexible wire form of a session patch. Only the
// fields present take effect; each maps onto one or more intents.
type patchRequest struct {
	CurrentStepIndex *int `json:"current_step_index,omitempty"`
	Checks           []struct {
		Step    int  `json:"step"`
		Bullet  int  `json:"bullet"`
		Checked bool `json:"checked"`
	} `json:"checks,omitempty"`
	ServingsTarget *int `json:"servings_target,omitempty"`
	AutoStep       *struct {
		Enabled bool                `json:"enabled"`
		Mode    models.AutoStepMode `json:"mode"`
	} `json:"auto_step,omitempty"`
	Timers []struct {
		ClientID    string `json:"client_id"`
		StepIndex   int    `json:"step_index"`
		BulletIndex *int   `json:"bullet_index,omitempty"`
		Label       string `json:"label"`
		DurationSec int    `json:"duration_sec"`
		Autostart   bool   `json:"autostart"`
	} `json:"timers,omitempty"`
	TimerActions []struct {
		TimerID string       `json:"timer_id"`
		Action  timer.Action `json:"action"`
	} `json:"timer_actions,omitempty"`
	MarkStepComplete *int `json:"mark_step_complete,omitempty"`
}

func (p *patchRequest) intents() []session.Intent {
	var out []session.Intent
	if p.CurrentStepIndex != nil {
		out = append(out, session.SetCurrentStep{Index: *p.CurrentStepIndex})
	}
	for _, c := range p.Checks {
		out = append(out, session.CheckBullet{Step: c.Step, Bullet: c.Bullet, Checked: c.Checked})
	}
	if p.ServingsTarget != nil {
		out = append(out, session.SetServings{Target: *p.ServingsTarget})
	}
	if p.AutoStep != nil {
		out = append(out, session.SetAutoStep{Enabled: p.AutoStep.Enabled, Mode: p.AutoStep.Mode})
	}
	for _, t := range p.Timers {
		out = append(out, session.CreateTimer{
			ClientID:    t.ClientID,
			StepIndex:   t.StepIndex,
			BulletIndex: t.BulletIndex,
			Label:       t.Label,
			DurationSec: t.DurationSec,
			Autostart:   t.Autostart,
		})
	}
	for _, a := range p.TimerActions {
		out = append(out, session.TimerAction{TimerID: a.TimerID, Action: a.Action})
	}
	if p.MarkStepComplete != nil {
		out = append(out, session.MarkStepComplete{Step: *p.MarkStepComplete})
	}
	return out
}

func (s *Server) patchSession(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	intents := req.intents()
	if len(intents) == 0 {
		writeError(w, http.StatusBadRequest, "patch contains no recognized fields")
		return
	}
	sess, err := s.engine.Patch(r.Context(), r.PathValue("id"), idemKey(r), intents)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Complete(r.Context(), r.PathValue("id"), idemKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) abandonSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Abandon(r.Context(), r.PathValue("id"), idemKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	count, err := s.engine.CleanupStale(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
}

// --- Method override ---

func (s *Server) previewMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MethodKey string `json:"method_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pv, err := s.engine.PreviewMethod(r.Context(), r.PathValue("id"), req.MethodKey)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

func (s *Server) applyMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MethodKey string `json:"method_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.engine.ApplyMethod(r.Context(), r.PathValue("id"), idemKey(r), req.MethodKey)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) resetMethod(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.ResetMethod(r.Context(), r.PathValue("id"), idemKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- Adjustments ---

func (s *Server) previewAdjustment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StepIndex   int                   `json:"step_index"`
		BulletIndex *int                  `json:"bullet_index"`
		Kind        models.AdjustmentKind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	result, err := s.engine.PreviewAdjustment(r.Context(), r.PathValue("id"), req.StepIndex, req.BulletIndex, req.Kind)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) applyAdjustment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Adjustment models.Adjustment `json:"adjustment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.engine.ApplyAdjustment(r.Context(), r.PathValue("id"), idemKey(r), req.Adjustment)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) undoAdjustment(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.UndoAdjustment(r.Context(), r.PathValue("id"), idemKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- Timers ---

func (s *Server) timerSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.engine.TimerSuggestions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []timer.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) createSuggestedTimers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientIDs []string `json:"client_ids"`
		Autostart *bool    `json:"autostart"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	autostart := req.Autostart == nil || *req.Autostart
	sess, err := s.engine.CreateSuggestedTimers(r.Context(), r.PathValue("id"), idemKey(r), req.ClientIDs, autostart)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) createTimer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID    string `json:"client_id"`
		StepIndex   int    `json:"step_index"`
		BulletIndex *int   `json:"bullet_index,omitempty"`
		Label       string `json:"label"`
		DurationSec int    `json:"duration_sec"`
		Autostart   bool   `json:"autostart"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.engine.Patch(r.Context(), r.PathValue("id"), idemKey(r), []session.Intent{
		session.CreateTimer{
			ClientID:    req.ClientID,
			StepIndex:   req.StepIndex,
			BulletIndex: req.BulletIndex,
			Label:       req.Label,
			DurationSec: req.DurationSec,
			Autostart:   req.Autostart,
		},
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) timerAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action timer.Action `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.engine.Patch(r.Context(), r.PathValue("id"), idemKey(r), []session.Intent{
		session.TimerAction{TimerID: r.PathValue("timer_id"), Action: req.Action},
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- Next action ---

func (s *Server) nextAction(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.engine.NextAction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// --- Status ---

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	active, err := s.engine.List(r.Context(), store.SessionListFilter{
		Statuses: []models.SessionStatus{models.SessionStatusActive},
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": len(active),
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}
