package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hearthware/cookd/internal/checklist"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/session"
	"github.com/hearthware/cookd/internal/store"
	"github.com/hearthware/cookd/internal/timer"
)

// Server wraps the cookd data layer and exposes it as MCP tools, so an
// assistant can read and drive a cook session conversationally.
type Server struct {
	store  store.Store
	engine *session.Engine
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, engine *session.Engine) *Server {
	return &Server{store: s, engine: engine}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("cookd", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listRecipesTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.sessionStatusTool())
	srv.AddTool(s.startSessionTool())
	srv.AddTool(s.checkBulletTool())
	srv.AddTool(s.goToStepTool())
	srv.AddTool(s.createTimerTool())
	srv.AddTool(s.nextActionTool())
	srv.AddTool(s.endSessionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// cook_list_recipes
func (s *Server) listRecipesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_list_recipes",
		mcp.WithDescription("List all stored recipes. Returns a JSON array with id, title, base servings, and step count."),
	)
	return tool, s.handleListRecipes
}

func (s *Server) handleListRecipes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipes, err := s.store.ListRecipes(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list recipes: %v", err)), nil
	}

	type recipeOut struct {
		ID            string `json:"id"`
		Title         string `json:"title"`
		ServingsBase  int    `json:"servings_base"`
		StepCount     int    `json:"step_count"`
		IngredientCnt int    `json:"ingredient_count"`
	}

	out := make([]recipeOut, len(recipes))
	for i, r := range recipes {
		out[i] = recipeOut{
			ID:            r.ID,
			Title:         r.Title,
			ServingsBase:  r.ServingsBase,
			StepCount:     len(r.Steps),
			IngredientCnt: len(r.Ingredients),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal recipes: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// cook_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_list_sessions",
		mcp.WithDescription("List cook sessions, optionally filtered by status. Returns a JSON array with id, recipe, status, current step, and progress."),
		mcp.WithString("status", mcp.Description("Status filter: active, completed, abandoned (comma-separated for multiple)")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionListFilter{Limit: 50}
	if raw := request.GetString("status", ""); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			st = strings.TrimSpace(st)
			if st != "" {
				filter.Statuses = append(filter.Statuses, models.SessionStatus(st))
			}
		}
	}

	sessions, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID          string `json:"id"`
		RecipeID    string `json:"recipe_id"`
		RecipeTitle string `json:"recipe_title"`
		Status      string `json:"status"`
		CurrentStep int    `json:"current_step"`
		Progress    int    `json:"progress_pct"`
		StartedAt   string `json:"started_at"`
	}

	titleCache := make(map[string]string)
	out := make([]sessionOut, 0, len(sessions))
	for _, sess := range sessions {
		title, ok := titleCache[sess.RecipeID]
		var recipe *models.Recipe
		if !ok {
			if r, err := s.store.GetRecipe(ctx, sess.RecipeID); err == nil {
				title = r.Title
				recipe = r
			}
			titleCache[sess.RecipeID] = title
		}
		progress := 0
		if recipe != nil {
			progress = checklist.ProgressPercent(sess, checklist.EffectiveSteps(sess, recipe))
		}
		out = append(out, sessionOut{
			ID:          sess.ID,
			RecipeID:    sess.RecipeID,
			RecipeTitle: title,
			Status:      string(sess.Status),
			CurrentStep: sess.CurrentStepIndex,
			Progress:    progress,
			StartedAt:   sess.StartedAt.Format(time.RFC3339),
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// cook_session_status
func (s *Server) sessionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_session_status",
		mcp.WithDescription("Get a full cook session snapshot: current step with its checklist, progress, timers with remaining seconds, servings scaling, and any applied method or adjustments."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleSessionStatus
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}
	recipe, err := s.store.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recipe not found for session: %v", err)), nil
	}

	steps := checklist.EffectiveSteps(sess, recipe)
	now := time.Now().UTC()

	type timerOut struct {
		ID           string `json:"id"`
		Label        string `json:"label"`
		State        string `json:"state"`
		RemainingSec int    `json:"remaining_sec"`
		StepIndex    int    `json:"step_index"`
	}
	var timers []timerOut
	for _, t := range sess.Timers {
		if t.DeletedAt != nil {
			continue
		}
		timers = append(timers, timerOut{
			ID:           t.ID,
			Label:        t.Label,
			State:        string(t.State),
			RemainingSec: timer.Remaining(t, now),
			StepIndex:    t.StepIndex,
		})
	}

	var currentStep map[string]any
	if sess.CurrentStepIndex >= 0 && sess.CurrentStepIndex < len(steps) {
		step := steps[sess.CurrentStepIndex]
		bullets := make([]map[string]any, len(step.Bullets))
		for b, text := range step.Bullets {
			bullets[b] = map[string]any{
				"text":    text,
				"checked": sess.Checked(sess.CurrentStepIndex, b),
			}
		}
		currentStep = map[string]any{
			"index":   sess.CurrentStepIndex,
			"title":   step.Title,
			"bullets": bullets,
			"done":    checklist.IsStepComplete(sess, steps, sess.CurrentStepIndex),
		}
	}

	checked, total := checklist.CheckedBullets(sess, steps)
	result := map[string]any{
		"session_id":      sess.ID,
		"recipe":          recipe.Title,
		"status":          string(sess.Status),
		"version":         sess.Version,
		"current_step":    currentStep,
		"step_count":      len(steps),
		"progress_pct":    checklist.ProgressPercent(sess, steps),
		"checked_bullets": checked,
		"total_bullets":   total,
		"servings_base":   sess.ServingsBase,
		"servings_target": sess.ServingsTarget,
		"method_key":      sess.MethodKey,
		"adjustments":     len(sess.AdjustmentsLog),
		"timers":          timers,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// cook_start_session
func (s *Server) startSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_start_session",
		mcp.WithDescription("Start a cook session for a recipe. Fails if the recipe already has an active session; resume or abandon that one first."),
		mcp.WithString("recipe", mcp.Required(), mcp.Description("Recipe ID or title")),
		mcp.WithNumber("servings", mcp.Description("Servings target (defaults to the recipe's base)")),
	)
	return tool, s.handleStartSession
}

func (s *Server) handleStartSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("recipe")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: recipe"), nil
	}

	recipe, err := s.resolveRecipe(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recipe not found: %s", ref)), nil
	}

	servings := int(request.GetFloat("servings", 0))
	sess, err := s.engine.Start(ctx, recipe.ID, servings)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"session_id":      sess.ID,
		"recipe":          recipe.Title,
		"status":          string(sess.Status),
		"servings_target": sess.ServingsTarget,
		"started_at":      sess.StartedAt.Format(time.RFC3339),
	}
	data, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(data)), nil
}

// cook_check_bullet
func (s *Server) checkBulletTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_check_bullet",
		mcp.WithDescription("Check or uncheck one checklist bullet on a step. Checking is an idempotent set, safe to repeat."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Step index (0-based)")),
		mcp.WithNumber("bullet", mcp.Required(), mcp.Description("Bullet index within the step (0-based)")),
		mcp.WithBoolean("checked", mcp.Description("Target state (default true)")),
	)
	return tool, s.handleCheckBullet
}

func (s *Server) handleCheckBullet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	step, err := request.RequireFloat("step")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: step"), nil
	}
	bullet, err := request.RequireFloat("bullet")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bullet"), nil
	}
	checked := request.GetBool("checked", true)

	sess, err := s.engine.Patch(ctx, sessionID, "", []session.Intent{
		session.CheckBullet{Step: int(step), Bullet: int(bullet), Checked: checked},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.snapshotResult(ctx, sess)
}

// cook_go_to_step
func (s *Server) goToStepTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_go_to_step",
		mcp.WithDescription("Move the session's current step cursor. Navigation is free in both directions and never blocked by incomplete checklists."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Target step index (0-based)")),
	)
	return tool, s.handleGoToStep
}

func (s *Server) handleGoToStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	step, err := request.RequireFloat("step")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: step"), nil
	}

	sess, err := s.engine.Patch(ctx, sessionID, "", []session.Intent{
		session.SetCurrentStep{Index: int(step)},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.snapshotResult(ctx, sess)
}

// cook_create_timer
func (s *Server) createTimerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_create_timer",
		mcp.WithDescription("Create a countdown timer bound to a step. Started timers keep accurate remaining time across reconnects because timing derives from absolute timestamps."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Step index the timer belongs to")),
		mcp.WithNumber("duration_sec", mcp.Required(), mcp.Description("Countdown duration in seconds")),
		mcp.WithString("label", mcp.Description("Timer label")),
		mcp.WithBoolean("autostart", mcp.Description("Start the timer immediately (default true)")),
	)
	return tool, s.handleCreateTimer
}

func (s *Server) handleCreateTimer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	step, err := request.RequireFloat("step")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: step"), nil
	}
	duration, err := request.RequireFloat("duration_sec")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: duration_sec"), nil
	}

	sess, err := s.engine.Patch(ctx, sessionID, "", []session.Intent{
		session.CreateTimer{
			StepIndex:   int(step),
			Label:       request.GetString("label", ""),
			DurationSec: int(duration),
			Autostart:   request.GetBool("autostart", true),
		},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.snapshotResult(ctx, sess)
}

// cook_next_action
func (s *Server) nextActionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_next_action",
		mcp.WithDescription("Ask the advisor what to do next in a session: advance a completed step, start a waiting timer, or finish up. Suggestions are advisory, never auto-applied."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleNextAction
}

func (s *Server) handleNextAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	suggestions, err := s.engine.NextAction(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal suggestions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// cook_end_session
func (s *Server) endSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cook_end_session",
		mcp.WithDescription("End a cook session as completed or abandoned. Ending is one-way; a session cannot be reopened."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("status", mcp.Description("Target status: completed (default) or abandoned")),
	)
	return tool, s.handleEndSession
}

func (s *Server) handleEndSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	target := request.GetString("status", "completed")

	var sess *models.CookSession
	switch target {
	case "completed":
		sess, err = s.engine.Complete(ctx, sessionID, "")
	case "abandoned":
		sess, err = s.engine.Abandon(ctx, sessionID, "")
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s (must be completed or abandoned)", target)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"session_id": sess.ID,
		"status":     string(sess.Status),
	}
	if sess.EndedAt != nil {
		result["ended_at"] = sess.EndedAt.Format(time.RFC3339)
	}
	data, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveRecipe tries to find a recipe by ID first, then by title
// (case-insensitive exact match).
func (s *Server) resolveRecipe(ctx context.Context, ref string) (*models.Recipe, error) {
	if r, err := s.store.GetRecipe(ctx, ref); err == nil {
		return r, nil
	}
	recipes, err := s.store.ListRecipes(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range recipes {
		if strings.EqualFold(r.Title, ref) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("recipe not found: %s", ref)
}

// snapshotResult returns the compact session view used by mutating tools.
func (s *Server) snapshotResult(ctx context.Context, sess *models.CookSession) (*mcp.CallToolResult, error) {
	recipe, err := s.store.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recipe not found for session: %v", err)), nil
	}
	steps := checklist.EffectiveSteps(sess, recipe)
	result := map[string]any{
		"session_id":   sess.ID,
		"version":      sess.Version,
		"current_step": sess.CurrentStepIndex,
		"progress_pct": checklist.ProgressPercent(sess, steps),
		"status":       string(sess.Status),
	}
	data, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(data)), nil
}
