// Package sqlite implements the store interfaces on a single SQLite
// database. Structured build state (plan, phases, file memory) is stored as
// JSON columns; files and messages are plain rows.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/plugforge/plugforge/pkg/model"
	"github.com/plugforge/plugforge/pkg/store"
)

// Store manages build, file, and message persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS builds (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			user_id          TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'planning',
			user_request     TEXT NOT NULL,
			model_id         TEXT NOT NULL DEFAULT '',
			framework        TEXT NOT NULL DEFAULT '',
			plan             TEXT NOT NULL DEFAULT '',
			phases           TEXT NOT NULL DEFAULT '',
			file_memory      TEXT NOT NULL DEFAULT '',
			summary          TEXT NOT NULL DEFAULT '',
			error            TEXT NOT NULL DEFAULT '',
			thinking_message TEXT NOT NULL DEFAULT '',
			input_chars      INTEGER NOT NULL DEFAULT 0,
			output_chars     INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_builds_session_id
			ON builds(session_id);

		CREATE TABLE IF NOT EXISTS build_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			build_id   TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			phase_idx  INTEGER NOT NULL DEFAULT 0,
			file_path  TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (build_id) REFERENCES builds(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_build_id
			ON build_events(build_id);

		CREATE TABLE IF NOT EXISTS project_files (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			path       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
			UNIQUE(session_id, path)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_id
			ON messages(session_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Build persistence ---

// CreateBuild inserts a new build. Fails with store.ErrActiveBuildExists if
// the session already has a non-terminal build.
func (s *Store) CreateBuild(b *model.Build) error {
	var active int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM builds
		 WHERE session_id = ? AND status NOT IN ('complete', 'cancelled', 'error')`,
		b.SessionID,
	).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return store.ErrActiveBuildExists
	}

	planJSON, phasesJSON, memoryJSON, err := marshalState(b)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO builds (id, session_id, user_id, status, user_request, model_id,
			framework, plan, phases, file_memory, summary, error, thinking_message,
			input_chars, output_chars, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, b.UserID, b.Status, b.UserRequest, b.ModelID,
		b.Framework, planJSON, phasesJSON, memoryJSON, b.Summary, b.Error,
		b.ThinkingMessage, b.InputChars, b.OutputChars, b.CreatedAt, b.UpdatedAt,
	)
	return err
}

// GetBuild retrieves a build by ID.
func (s *Store) GetBuild(id string) (*model.Build, error) {
	row := s.db.QueryRow(buildSelect+` WHERE id = ?`, id)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return b, err
}

// GetLatestBuild returns the most recent build for a session.
func (s *Store) GetLatestBuild(sessionID string) (*model.Build, error) {
	row := s.db.QueryRow(
		buildSelect+` WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID,
	)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return b, err
}

// ListBuilds returns all builds for a session, newest first. An empty
// sessionID lists every build.
func (s *Store) ListBuilds(sessionID string) ([]*model.Build, error) {
	query := buildSelect + ` ORDER BY created_at DESC, id DESC`
	args := []any{}
	if sessionID != "" {
		query = buildSelect + ` WHERE session_id = ? ORDER BY created_at DESC, id DESC`
		args = append(args, sessionID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []*model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// UpdateBuild writes the mutable fields of a build. This is the checkpoint
// call: the runner invokes it after every state transition, before emitting
// the corresponding event.
func (s *Store) UpdateBuild(b *model.Build) error {
	planJSON, phasesJSON, memoryJSON, err := marshalState(b)
	if err != nil {
		return err
	}

	b.UpdatedAt = time.Now().UTC()
	_, err = s.db.Exec(
		`UPDATE builds SET
			status = ?, plan = ?, phases = ?, file_memory = ?, summary = ?,
			error = ?, thinking_message = ?, input_chars = ?, output_chars = ?,
			updated_at = ?
		 WHERE id = ?`,
		b.Status, planJSON, phasesJSON, memoryJSON, b.Summary,
		b.Error, b.ThinkingMessage, b.InputChars, b.OutputChars,
		b.UpdatedAt, b.ID,
	)
	return err
}

// AddEvent inserts a new event and fills in its ID.
func (s *Store) AddEvent(e *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO build_events (build_id, type, data, phase_idx, file_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.BuildID, e.Type, e.Data, e.PhaseIndex, e.FilePath, e.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// GetEvents returns events for a build, optionally after a given event ID.
func (s *Store) GetEvents(buildID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, build_id, type, data, phase_idx, file_path, created_at
		 FROM build_events
		 WHERE build_id = ? AND id > ?
		 ORDER BY id ASC`,
		buildID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.BuildID, &e.Type, &e.Data, &e.PhaseIndex, &e.FilePath, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- File persistence ---

// UpsertFile creates or replaces a project file's content.
func (s *Store) UpsertFile(sessionID, path, content string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO project_files (session_id, path, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, path)
		 DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		sessionID, path, content, now, now,
	)
	return err
}

// DeleteFile removes a project file.
func (s *Store) DeleteFile(sessionID, path string) error {
	_, err := s.db.Exec(
		`DELETE FROM project_files WHERE session_id = ? AND path = ?`,
		sessionID, path,
	)
	return err
}

// GetFile retrieves one project file.
func (s *Store) GetFile(sessionID, path string) (*model.ProjectFile, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, path, content, created_at, updated_at
		 FROM project_files WHERE session_id = ? AND path = ?`,
		sessionID, path,
	)
	f := &model.ProjectFile{}
	err := row.Scan(&f.ID, &f.SessionID, &f.Path, &f.Content, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFiles returns all project files for a session ordered by path.
func (s *Store) ListFiles(sessionID string) ([]*model.ProjectFile, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, path, content, created_at, updated_at
		 FROM project_files WHERE session_id = ? ORDER BY path ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*model.ProjectFile
	for rows.Next() {
		f := &model.ProjectFile{}
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Path, &f.Content, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Message persistence ---

// AddMessage inserts a new message and fills in its ID.
func (s *Store) AddMessage(msg *model.Message) error {
	result, err := s.db.Exec(
		`INSERT INTO messages (session_id, role, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// GetMessages returns all messages for a session ordered by creation time.
func (s *Store) GetMessages(sessionID string) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at
		 FROM messages
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Scan helpers ---

const buildSelect = `SELECT id, session_id, user_id, status, user_request, model_id,
	framework, plan, phases, file_memory, summary, error, thinking_message,
	input_chars, output_chars, created_at, updated_at FROM builds`

type scannable interface {
	Scan(dest ...any) error
}

func scanBuild(row scannable) (*model.Build, error) {
	b := &model.Build{}
	var planJSON, phasesJSON, memoryJSON string
	err := row.Scan(
		&b.ID, &b.SessionID, &b.UserID, &b.Status, &b.UserRequest, &b.ModelID,
		&b.Framework, &planJSON, &phasesJSON, &memoryJSON, &b.Summary, &b.Error,
		&b.ThinkingMessage, &b.InputChars, &b.OutputChars, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalState(b, planJSON, phasesJSON, memoryJSON); err != nil {
		return nil, err
	}
	return b, nil
}

func marshalState(b *model.Build) (planJSON, phasesJSON, memoryJSON string, err error) {
	if b.Plan != nil {
		data, err := json.Marshal(b.Plan)
		if err != nil {
			return "", "", "", fmt.Errorf("marshalling plan: %w", err)
		}
		planJSON = string(data)
	}
	if b.Phases != nil {
		data, err := json.Marshal(b.Phases)
		if err != nil {
			return "", "", "", fmt.Errorf("marshalling phases: %w", err)
		}
		phasesJSON = string(data)
	}
	if b.FileMemory != nil {
		data, err := json.Marshal(b.FileMemory)
		if err != nil {
			return "", "", "", fmt.Errorf("marshalling file memory: %w", err)
		}
		memoryJSON = string(data)
	}
	return planJSON, phasesJSON, memoryJSON, nil
}

func unmarshalState(b *model.Build, planJSON, phasesJSON, memoryJSON string) error {
	if planJSON != "" {
		b.Plan = &model.BuildPlan{}
		if err := json.Unmarshal([]byte(planJSON), b.Plan); err != nil {
			return fmt.Errorf("unmarshalling plan: %w", err)
		}
	}
	if phasesJSON != "" {
		if err := json.Unmarshal([]byte(phasesJSON), &b.Phases); err != nil {
			return fmt.Errorf("unmarshalling phases: %w", err)
		}
	}
	if memoryJSON != "" {
		if err := json.Unmarshal([]byte(memoryJSON), &b.FileMemory); err != nil {
			return fmt.Errorf("unmarshalling file memory: %w", err)
		}
	}
	return nil
}
