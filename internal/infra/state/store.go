// Package state provides the durable Installation State Store.
// It is the single source of truth for "is this installed": components
// never guess at file existence without going through its verification
// accessors. Backed by SQLite in WAL mode for crash-safe writes.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/aide-sh/aide/internal/domain"
)

// Store wraps the SQLite-backed installation record.
type Store struct {
	db  *sql.DB
	dir string
}

// Open creates or opens the state database at dir/state.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dir: dir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close cleanly shuts down the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks database connectivity.
func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) migrate() error {
	migrations := []string{
		// Scalar installation facts: phase checkpoint, installer version,
		// resolved engine path, selected model.
		`CREATE TABLE IF NOT EXISTS install_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Required/optional tool satisfaction.
		`CREATE TABLE IF NOT EXISTS dependencies (
			name      TEXT PRIMARY KEY,
			satisfied BOOLEAN NOT NULL DEFAULT 0,
			checked_at INTEGER NOT NULL
		)`,

		// Numbered feature registry. Indices are contiguous from 1.
		`CREATE TABLE IF NOT EXISTS features (
			idx          INTEGER PRIMARY KEY,
			name         TEXT NOT NULL,
			source       TEXT NOT NULL,
			status       TEXT NOT NULL,
			installed_at INTEGER
		)`,

		// Append-only conversation log, owned by the request router.
		`CREATE TABLE IF NOT EXISTS conversation_log (
			id         TEXT PRIMARY KEY,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_created ON conversation_log(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Scalar State ───────────────────────────────────────────────────────────

func (s *Store) setKV(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO install_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *Store) getKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM install_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Phase returns the state-machine checkpoint. A fresh store reports
// Uninstalled.
func (s *Store) Phase() (domain.InstallPhase, error) {
	v, err := s.getKV("phase")
	if err != nil {
		return domain.Uninstalled, err
	}
	return domain.ParsePhase(v), nil
}

// SetPhase commits the state-machine checkpoint.
func (s *Store) SetPhase(p domain.InstallPhase) error {
	return s.setKV("phase", p.String())
}

// InstalledVersion returns the installer version currently applied.
func (s *Store) InstalledVersion() (string, error) {
	return s.getKV("installed_version")
}

// SetInstalledVersion records the applied installer version.
func (s *Store) SetInstalledVersion(v string) error {
	return s.setKV("installed_version", v)
}

// EnginePath returns the resolved, validated engine binary path.
// Empty means no binary has been validated yet. Staleness is detected
// by the supervisor's health check, never assumed fixed.
func (s *Store) EnginePath() (string, error) {
	return s.getKV("engine_path")
}

// SetEnginePath records a binary path that passed the smoke test.
func (s *Store) SetEnginePath(path string) error {
	return s.setKV("engine_path", path)
}

// WrapperPath returns the installed wrapper entry point path.
func (s *Store) WrapperPath() (string, error) {
	return s.getKV("wrapper_path")
}

// SetWrapperPath records the installed wrapper entry point.
func (s *Store) SetWrapperPath(path string) error {
	return s.setKV("wrapper_path", path)
}

// ─── Model Selection ────────────────────────────────────────────────────────

// Model returns the current model selection. A fresh store reports an
// absent model with no name.
func (s *Store) Model() (domain.ModelSelection, error) {
	sel := domain.ModelSelection{Status: domain.ModelAbsent}
	var err error
	if sel.Name, err = s.getKV("model_name"); err != nil {
		return sel, err
	}
	if sel.Path, err = s.getKV("model_path"); err != nil {
		return sel, err
	}
	status, err := s.getKV("model_status")
	if err != nil {
		return sel, err
	}
	if status != "" {
		sel.Status = domain.ModelStatus(status)
	}
	return sel, nil
}

// SetModel commits the model selection and its verification status.
func (s *Store) SetModel(sel domain.ModelSelection) error {
	if err := s.setKV("model_name", sel.Name); err != nil {
		return err
	}
	if err := s.setKV("model_path", sel.Path); err != nil {
		return err
	}
	return s.setKV("model_status", string(sel.Status))
}

// ─── Dependencies ───────────────────────────────────────────────────────────

// SetDependency records whether a tool is satisfied.
func (s *Store) SetDependency(name string, satisfied bool) error {
	_, err := s.db.Exec(
		`INSERT INTO dependencies (name, satisfied, checked_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET satisfied=excluded.satisfied, checked_at=excluded.checked_at`,
		name, satisfied, time.Now().Unix(),
	)
	return err
}

// Dependencies returns the recorded tool satisfaction map.
func (s *Store) Dependencies() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT name, satisfied FROM dependencies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deps := make(map[string]bool)
	for rows.Next() {
		var name string
		var sat bool
		if err := rows.Scan(&name, &sat); err != nil {
			return nil, err
		}
		deps[name] = sat
	}
	return deps, rows.Err()
}

// ─── Feature Registry ───────────────────────────────────────────────────────

// UpsertFeature records a feature outcome, success or failure.
func (s *Store) UpsertFeature(rec domain.FeatureRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO features (idx, name, source, status, installed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(idx) DO UPDATE SET
			name=excluded.name,
			source=excluded.source,
			status=excluded.status,
			installed_at=excluded.installed_at`,
		rec.Index, rec.Name, rec.Source, string(rec.Status), nullableUnix(rec.InstalledAt),
	)
	return err
}

// Feature returns the record at idx, or nil when none exists.
func (s *Store) Feature(idx int) (*domain.FeatureRecord, error) {
	row := s.db.QueryRow(
		`SELECT idx, name, source, status, installed_at FROM features WHERE idx = ?`, idx,
	)
	return scanFeature(row)
}

// Features returns the registry in index order.
func (s *Store) Features() ([]domain.FeatureRecord, error) {
	rows, err := s.db.Query(
		`SELECT idx, name, source, status, installed_at FROM features ORDER BY idx`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.FeatureRecord
	for rows.Next() {
		r, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, rows.Err()
}

// ─── Conversation Log ───────────────────────────────────────────────────────

// AppendConversation appends one turn. The log is append-only; entries
// are never updated.
func (s *Store) AppendConversation(e domain.ConversationEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO conversation_log (id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, string(e.Role), e.Content, e.CreatedAt.UnixNano(),
	)
	return err
}

// Conversation returns all entries in append order.
func (s *Store) Conversation() ([]domain.ConversationEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, created_at FROM conversation_log ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ConversationEntry
	for rows.Next() {
		var e domain.ConversationEntry
		var role string
		var createdAt int64
		if err := rows.Scan(&e.ID, &role, &e.Content, &createdAt); err != nil {
			return nil, err
		}
		e.Role = domain.Role(role)
		e.CreatedAt = time.Unix(0, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResetConversation empties the log. The installer never calls this;
// it backs the explicit `ai history --reset` operation.
func (s *Store) ResetConversation() error {
	_, err := s.db.Exec(`DELETE FROM conversation_log`)
	return err
}

// ─── Clean Install ──────────────────────────────────────────────────────────

// Archive moves the current state database into backupDir with a
// timestamped name. The store must be closed first. Used by clean
// install: previous state is never silently discarded.
func Archive(dir, backupDir string) (string, error) {
	src := filepath.Join(dir, "state.db")
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", nil // nothing to archive
	}

	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return "", err
	}
	dst := filepath.Join(backupDir, fmt.Sprintf("state.db.%d", time.Now().Unix()))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("archive state: %w", err)
	}
	// Drop WAL sidecars; they belong to the archived generation.
	os.Remove(src + "-wal")
	os.Remove(src + "-shm")
	return dst, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func scanFeature(sc scanner) (*domain.FeatureRecord, error) {
	var r domain.FeatureRecord
	var status string
	var installedAt sql.NullInt64

	err := sc.Scan(&r.Index, &r.Name, &r.Source, &status, &installedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.Status = domain.FeatureStatus(status)
	if installedAt.Valid {
		r.InstalledAt = time.Unix(installedAt.Int64, 0)
	}
	return &r, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
