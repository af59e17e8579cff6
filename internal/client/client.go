// Package client is the consumer-side library for the cookd API: a
// typed HTTP client, an optimistic session handle that serializes
// mutations and merges snapshots by version, and a self-healing event
// subscription.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/store"
)

// timeNow is swapped out by tests that need a fixed clock.
var timeNow = func() time.Time { return time.Now().UTC() }

// Client is a typed HTTP client for the cookd daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends a JSON request and decodes a JSON response into out (when
// non-nil). API error payloads come back mapped onto the shared error
// taxonomy so callers can use errs.Is* regardless of transport.
func (c *Client) do(ctx context.Context, method, path, idemKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return errs.Validation("%s", msg)
	case http.StatusNotFound:
		return errs.NotFound("%s", msg)
	case http.StatusConflict:
		return errs.Conflict("%s", msg)
	default:
		if resp.StatusCode >= 500 {
			return errs.Transient(fmt.Errorf("%s", msg))
		}
		return fmt.Errorf("%s", msg)
	}
}

// --- Recipes ---

func (c *Client) CreateRecipe(ctx context.Context, r *models.Recipe) (*models.Recipe, error) {
	var out models.Recipe
	if err := c.do(ctx, http.MethodPost, "/api/v1/recipes", "", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRecipes(ctx context.Context) ([]*models.Recipe, error) {
	var out []*models.Recipe
	if err := c.do(ctx, http.MethodGet, "/api/v1/recipes", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRecipe(ctx context.Context, id string) (*models.Recipe, error) {
	var out models.Recipe
	if err := c.do(ctx, http.MethodGet, "/api/v1/recipes/"+id, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Sessions ---

func (c *Client) StartSession(ctx context.Context, recipeID string, servingsTarget int) (*models.CookSession, error) {
	var out models.CookSession
	req := map[string]any{"recipe_id": recipeID, "servings_target": servingsTarget}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*models.CookSession, error) {
	var out models.CookSession
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+id, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ActiveSession(ctx context.Context, recipeID string) (*models.CookSession, error) {
	var out models.CookSession
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/active?recipe_id="+recipeID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions(ctx context.Context, filter store.SessionListFilter) ([]*models.CookSession, error) {
	path := "/api/v1/sessions"
	var params []string
	if filter.RecipeID != "" {
		params = append(params, "recipe_id="+filter.RecipeID)
	}
	if len(filter.Statuses) > 0 {
		var parts []string
		for _, st := range filter.Statuses {
			parts = append(parts, string(st))
		}
		params = append(params, "status="+strings.Join(parts, ","))
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}
	var out []*models.CookSession
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Patch sends a raw patch body. Most callers should go through a
// SessionHandle, which serializes writes and keeps optimistic state.
func (c *Client) Patch(ctx context.Context, id, idemKey string, patch any) (*models.CookSession, error) {
	var out models.CookSession
	if err := c.do(ctx, http.MethodPatch, "/api/v1/sessions/"+id, idemKey, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CompleteSession(ctx context.Context, id, idemKey string) (*models.CookSession, error) {
	var out models.CookSession
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/complete", idemKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AbandonSession(ctx context.Context, id, idemKey string) (*models.CookSession, error) {
	var out models.CookSession
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/abandon", idemKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CleanupSessions(ctx context.Context) (int64, error) {
	var out map[string]int64
	if err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/cleanup", "", nil, &out); err != nil {
		return 0, err
	}
	return out["deleted"], nil
}
