package store

import (
	"context"

	"github.com/hearthware/cookd/internal/models"
)

// SessionListFilter specifies filters for listing cook sessions.
type SessionListFilter struct {
	RecipeID string
	Statuses []models.SessionStatus
	Limit    int
}

// Store defines the persistence interface for cookd.
type Store interface {
	// Recipes
	CreateRecipe(ctx context.Context, r *models.Recipe) error
	GetRecipe(ctx context.Context, id string) (*models.Recipe, error)
	ListRecipes(ctx context.Context) ([]*models.Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error

	// Cook sessions
	CreateSession(ctx context.Context, s *models.CookSession) error
	GetSession(ctx context.Context, id string) (*models.CookSession, error)
	GetActiveSessionByRecipe(ctx context.Context, recipeID string) (*models.CookSession, error)
	ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.CookSession, error)
	// UpdateSession persists the session and bumps its version. The
	// update is guarded on the version the caller read: a concurrent
	// writer having advanced it surfaces as a conflict, never as a
	// silent lost update.
	UpdateSession(ctx context.Context, s *models.CookSession) error
	DeleteStaleSessions(ctx context.Context) (int64, error)

	// Idempotency. RememberRequest records a client-generated key for a
	// session and reports whether it was already seen, so a retried
	// mutation replays the current snapshot instead of re-applying.
	// ForgetRequest releases a key whose mutation failed to commit;
	// a key may only be left recorded once its write has succeeded.
	RememberRequest(ctx context.Context, key, sessionID string) (seen bool, err error)
	ForgetRequest(ctx context.Context, key, sessionID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
