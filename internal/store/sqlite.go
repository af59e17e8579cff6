package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthware/cookd/internal/errs"
	"github.com/hearthware/cookd/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	return ulid.Make().String()
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Recipes ---

func (s *SQLiteStore) CreateRecipe(ctx context.Context, r *models.Recipe) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.ServingsBase <= 0 {
		r.ServingsBase = 1
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	stepsJSON, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	ingredientsJSON, err := json.Marshal(r.Ingredients)
	if err != nil {
		return fmt.Errorf("marshal ingredients: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipes (id, title, servings_base, steps, ingredients, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.ServingsBase, string(stepsJSON), string(ingredientsJSON), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create recipe: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecipe(ctx context.Context, id string) (*models.Recipe, error) {
	r := &models.Recipe{}
	var stepsJSON, ingredientsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, servings_base, steps, ingredients, created_at, updated_at
		FROM recipes WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &r.ServingsBase, &stepsJSON, &ingredientsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("recipe %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &r.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal([]byte(ingredientsJSON), &r.Ingredients); err != nil {
		return nil, fmt.Errorf("unmarshal ingredients: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRecipes(ctx context.Context) ([]*models.Recipe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, servings_base, steps, ingredients, created_at, updated_at
		FROM recipes ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recipes []*models.Recipe
	for rows.Next() {
		r := &models.Recipe{}
		var stepsJSON, ingredientsJSON string
		if err := rows.Scan(&r.ID, &r.Title, &r.ServingsBase, &stepsJSON, &ingredientsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recipe: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &r.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
		if err := json.Unmarshal([]byte(ingredientsJSON), &r.Ingredients); err != nil {
			return nil, fmt.Errorf("unmarshal ingredients: %w", err)
		}
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

func (s *SQLiteStore) DeleteRecipe(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM recipes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errs.NotFound("recipe %s", id)
	}
	return nil
}

// --- Cook sessions ---

// sessionColumns is the canonical column list shared by every session
// SELECT so scans stay in sync with the schema.
const sessionColumns = `id, recipe_id, status, version, current_step_index, servings_base, servings_target,
	step_checks, timers, method_key, steps_override, method_tradeoffs, method_generated_at,
	adjustments_log, auto_step_enabled, auto_step_mode, auto_step_suggested_index,
	auto_step_confidence, auto_step_reason, started_at, updated_at, ended_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.CookSession) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	now := time.Now().UTC()
	sess.StartedAt = now
	sess.UpdatedAt = now
	sess.Version = 1
	if sess.Status == "" {
		sess.Status = models.SessionStatusActive
	}
	if sess.AutoStepMode == "" {
		sess.AutoStepMode = models.AutoStepModeSuggest
	}
	if sess.StepChecks == nil {
		sess.StepChecks = make(map[int]map[int]bool)
	}
	if sess.Timers == nil {
		sess.Timers = make(map[string]*models.Timer)
	}

	cols, err := marshalSessionJSON(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cook_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.RecipeID, string(sess.Status), sess.Version, sess.CurrentStepIndex,
		sess.ServingsBase, sess.ServingsTarget,
		cols.stepChecks, cols.timers, sess.MethodKey, cols.stepsOverride, cols.methodTradeoffs,
		sess.MethodGeneratedAt, cols.adjustmentsLog,
		boolToInt(sess.AutoStepEnabled), string(sess.AutoStepMode), sess.AutoStepSuggestedIndex,
		sess.AutoStepConfidence, sess.AutoStepReason,
		sess.StartedAt, sess.UpdatedAt, sess.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.CookSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM cook_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetActiveSessionByRecipe(ctx context.Context, recipeID string) (*models.CookSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM cook_sessions
		WHERE recipe_id = ? AND status = 'active'
		ORDER BY started_at DESC LIMIT 1`, recipeID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("no active session for recipe %s", recipeID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.CookSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM cook_sessions WHERE 1=1`
	var args []any

	if filter.RecipeID != "" {
		query += " AND recipe_id = ?"
		args = append(args, filter.RecipeID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.CookSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession bumps the version and is guarded on the version the
// caller read, so concurrent writers cannot silently clobber each other.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.CookSession) error {
	cols, err := marshalSessionJSON(sess)
	if err != nil {
		return err
	}
	readVersion := sess.Version
	sess.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE cook_sessions SET
			status=?, version=version+1, current_step_index=?, servings_base=?, servings_target=?,
			step_checks=?, timers=?, method_key=?, steps_override=?, method_tradeoffs=?, method_generated_at=?,
			adjustments_log=?, auto_step_enabled=?, auto_step_mode=?, auto_step_suggested_index=?,
			auto_step_confidence=?, auto_step_reason=?, updated_at=?, ended_at=?
		WHERE id=? AND version=?`,
		string(sess.Status), sess.CurrentStepIndex, sess.ServingsBase, sess.ServingsTarget,
		cols.stepChecks, cols.timers, sess.MethodKey, cols.stepsOverride, cols.methodTradeoffs, sess.MethodGeneratedAt,
		cols.adjustmentsLog, boolToInt(sess.AutoStepEnabled), string(sess.AutoStepMode), sess.AutoStepSuggestedIndex,
		sess.AutoStepConfidence, sess.AutoStepReason, sess.UpdatedAt, sess.EndedAt,
		sess.ID, readVersion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Either the session is gone or another writer advanced it.
		var exists int
		if scanErr := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cook_sessions WHERE id = ?", sess.ID).Scan(&exists); scanErr == nil && exists == 0 {
			return errs.NotFound("session %s", sess.ID)
		}
		return errs.Conflict("session %s was modified concurrently (read version %d)", sess.ID, readVersion)
	}
	sess.Version = readVersion + 1
	return nil
}

// DeleteStaleSessions removes abandoned sessions that lasted under a
// minute with the cursor never moved: aborted starts, not history.
func (s *SQLiteStore) DeleteStaleSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cook_sessions
		WHERE status = 'abandoned' AND current_step_index = 0
		AND ended_at IS NOT NULL
		AND (julianday(substr(ended_at, 1, 19)) - julianday(substr(started_at, 1, 19))) * 86400 < 60`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// --- Idempotency ---

func (s *SQLiteStore) RememberRequest(ctx context.Context, key, sessionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO idempotency_keys (key, session_id, created_at) VALUES (?, ?, ?)",
		key, sessionID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("remember request: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 0, nil
}

func (s *SQLiteStore) ForgetRequest(ctx context.Context, key, _ string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE key = ?", key); err != nil {
		return fmt.Errorf("forget request: %w", err)
	}
	return nil
}

// --- Session row marshaling ---

type sessionJSONColumns struct {
	stepChecks     string
	timers         string
	stepsOverride  sql.NullString
	methodTradeoffs sql.NullString
	adjustmentsLog string
}

func marshalSessionJSON(sess *models.CookSession) (sessionJSONColumns, error) {
	var cols sessionJSONColumns

	checks, err := json.Marshal(sess.StepChecks)
	if err != nil {
		return cols, fmt.Errorf("marshal step checks: %w", err)
	}
	cols.stepChecks = string(checks)

	timers, err := json.Marshal(sess.Timers)
	if err != nil {
		return cols, fmt.Errorf("marshal timers: %w", err)
	}
	cols.timers = string(timers)

	if sess.StepsOverride != nil {
		override, err := json.Marshal(sess.StepsOverride)
		if err != nil {
			return cols, fmt.Errorf("marshal steps override: %w", err)
		}
		cols.stepsOverride = sql.NullString{String: string(override), Valid: true}
	}

	if sess.MethodTradeoffs != nil {
		tradeoffs, err := json.Marshal(sess.MethodTradeoffs)
		if err != nil {
			return cols, fmt.Errorf("marshal method tradeoffs: %w", err)
		}
		cols.methodTradeoffs = sql.NullString{String: string(tradeoffs), Valid: true}
	}

	log := sess.AdjustmentsLog
	if log == nil {
		log = []models.Adjustment{}
	}
	adjustments, err := json.Marshal(log)
	if err != nil {
		return cols, fmt.Errorf("marshal adjustments log: %w", err)
	}
	cols.adjustmentsLog = string(adjustments)

	return cols, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.CookSession, error) {
	sess := &models.CookSession{}
	var (
		status, autoStepMode                      string
		stepChecksJSON, timersJSON, adjustmentsJSON string
		stepsOverrideJSON, tradeoffsJSON          sql.NullString
		methodGeneratedAt, endedAt                sql.NullTime
		autoStepEnabled                           int
		autoStepSuggested                         sql.NullInt64
	)

	err := row.Scan(&sess.ID, &sess.RecipeID, &status, &sess.Version, &sess.CurrentStepIndex,
		&sess.ServingsBase, &sess.ServingsTarget,
		&stepChecksJSON, &timersJSON, &sess.MethodKey, &stepsOverrideJSON, &tradeoffsJSON, &methodGeneratedAt,
		&adjustmentsJSON, &autoStepEnabled, &autoStepMode, &autoStepSuggested,
		&sess.AutoStepConfidence, &sess.AutoStepReason,
		&sess.StartedAt, &sess.UpdatedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = models.SessionStatus(status)
	sess.AutoStepMode = models.AutoStepMode(autoStepMode)
	sess.AutoStepEnabled = autoStepEnabled != 0
	if autoStepSuggested.Valid {
		idx := int(autoStepSuggested.Int64)
		sess.AutoStepSuggestedIndex = &idx
	}
	if methodGeneratedAt.Valid {
		sess.MethodGeneratedAt = &methodGeneratedAt.Time
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	if err := json.Unmarshal([]byte(stepChecksJSON), &sess.StepChecks); err != nil {
		return nil, fmt.Errorf("unmarshal step checks: %w", err)
	}
	if err := json.Unmarshal([]byte(timersJSON), &sess.Timers); err != nil {
		return nil, fmt.Errorf("unmarshal timers: %w", err)
	}
	if stepsOverrideJSON.Valid {
		if err := json.Unmarshal([]byte(stepsOverrideJSON.String), &sess.StepsOverride); err != nil {
			return nil, fmt.Errorf("unmarshal steps override: %w", err)
		}
	}
	if tradeoffsJSON.Valid {
		if err := json.Unmarshal([]byte(tradeoffsJSON.String), &sess.MethodTradeoffs); err != nil {
			return nil, fmt.Errorf("unmarshal method tradeoffs: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(adjustmentsJSON), &sess.AdjustmentsLog); err != nil {
		return nil, fmt.Errorf("unmarshal adjustments log: %w", err)
	}
	return sess, nil
}
