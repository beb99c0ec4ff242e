// Package bots stores named override bundles ("bot profiles") that a client
// can attach to a turn. A profile pre-selects provider, model, sampling
// parameters, and a system prompt; explicit per-turn values always win over
// profile values.
package bots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"qcommander/internal/core"
)

// ErrNotFound is returned when no bot exists under the requested id.
var ErrNotFound = errors.New("bot not found")

// Bot is one stored profile.
type Bot struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Emoji        string   `json:"emoji,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	ToolsEnabled bool     `json:"tools_enabled"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// Patch is a partial bot update; nil fields are left untouched.
type Patch struct {
	Name         *string  `json:"name"`
	Emoji        *string  `json:"emoji"`
	SystemPrompt *string  `json:"system_prompt"`
	Provider     *string  `json:"provider"`
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
	ToolsEnabled *bool    `json:"tools_enabled"`
}

const schema = `
CREATE TABLE IF NOT EXISTS bots (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	emoji         TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	temperature   REAL,
	max_tokens    INTEGER,
	tools_enabled INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
`

// Store is a SQLite-backed bot profile store.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the bots database at dir/bots.db with WAL mode and
// a busy timeout, and applies the schema.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dir, "bots.db")
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open bots database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply bots schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new bot and returns it with generated id and timestamps.
func (s *Store) Create(ctx context.Context, b Bot) (Bot, error) {
	if b.Name == "" {
		return Bot{}, errors.New("bot name must not be empty")
	}
	b.ID = uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	b.CreatedAt, b.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (id, name, emoji, system_prompt, provider, model,
			temperature, max_tokens, tools_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Emoji, b.SystemPrompt, b.Provider, b.Model,
		b.Temperature, b.MaxTokens, b.ToolsEnabled, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return Bot{}, fmt.Errorf("insert bot: %w", err)
	}
	return b, nil
}

// Get fetches one bot by id.
func (s *Store) Get(ctx context.Context, id string) (Bot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, emoji, system_prompt, provider, model,
			temperature, max_tokens, tools_enabled, created_at, updated_at
		FROM bots WHERE id = ?`, id)
	return scanBot(row)
}

// List returns all bots ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, emoji, system_prompt, provider, model,
			temperature, max_tokens, tools_enabled, created_at, updated_at
		FROM bots ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	bots := make([]Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// Update applies a patch to an existing bot and returns the updated row.
func (s *Store) Update(ctx context.Context, id string, p Patch) (Bot, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return Bot{}, err
	}

	if p.Name != nil {
		if *p.Name == "" {
			return Bot{}, errors.New("bot name must not be empty")
		}
		b.Name = *p.Name
	}
	if p.Emoji != nil {
		b.Emoji = *p.Emoji
	}
	if p.SystemPrompt != nil {
		b.SystemPrompt = *p.SystemPrompt
	}
	if p.Provider != nil {
		b.Provider = *p.Provider
	}
	if p.Model != nil {
		b.Model = *p.Model
	}
	if p.Temperature != nil {
		b.Temperature = p.Temperature
	}
	if p.MaxTokens != nil {
		b.MaxTokens = p.MaxTokens
	}
	if p.ToolsEnabled != nil {
		b.ToolsEnabled = *p.ToolsEnabled
	}
	b.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	_, err = s.db.ExecContext(ctx, `
		UPDATE bots SET name=?, emoji=?, system_prompt=?, provider=?, model=?,
			temperature=?, max_tokens=?, tools_enabled=?, updated_at=?
		WHERE id=?`,
		b.Name, b.Emoji, b.SystemPrompt, b.Provider, b.Model,
		b.Temperature, b.MaxTokens, b.ToolsEnabled, b.UpdatedAt, id,
	)
	if err != nil {
		return Bot{}, fmt.Errorf("update bot: %w", err)
	}
	return b, nil
}

// Delete removes a bot. Deleting an unknown id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (Bot, error) {
	var b Bot
	var toolsEnabled int
	err := row.Scan(&b.ID, &b.Name, &b.Emoji, &b.SystemPrompt, &b.Provider,
		&b.Model, &b.Temperature, &b.MaxTokens, &toolsEnabled,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, ErrNotFound
	}
	if err != nil {
		return Bot{}, fmt.Errorf("scan bot: %w", err)
	}
	b.ToolsEnabled = toolsEnabled != 0
	return b, nil
}

// ApplyOverrides merges a bot profile into a turn submission. Explicit client
// values always win; the profile only fills what the client left out. The
// system prompt is prepended as a system message when the request has none.
func ApplyOverrides(b Bot, provider, model string, req *core.ChatRequest) (string, string) {
	if provider == "" {
		provider = b.Provider
	}
	if model == "" && b.Model != "" {
		model = b.Model
	}
	if req.Temperature == nil && b.Temperature != nil {
		req.Temperature = b.Temperature
	}
	if req.MaxTokens == nil && b.MaxTokens != nil {
		req.MaxTokens = b.MaxTokens
	}
	if b.SystemPrompt != "" && !hasSystemMessage(req.Messages) {
		req.Messages = append([]core.Message{{Role: "system", Content: b.SystemPrompt}}, req.Messages...)
	}
	return provider, model
}

func hasSystemMessage(msgs []core.Message) bool {
	for _, m := range msgs {
		if m.Role == "system" {
			return true
		}
	}
	return false
}
