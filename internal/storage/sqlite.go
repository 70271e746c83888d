package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"ghwatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LoadProcessed(ctx context.Context, resource string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys,
		`SELECT key FROM processed_events WHERE resource = ? ORDER BY added_at, key`, resource)
	return keys, err
}

func (s *sqliteStore) AppendProcessed(ctx context.Context, resource string, keys ...string) error {
	keys = trimKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := insertProcessed(ctx, tx, resource, keys); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveProcessed(ctx context.Context, resource string, keys []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_events WHERE resource = ?`, resource); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertProcessed(ctx, tx, resource, trimKeys(keys)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertProcessed(ctx context.Context, tx *sqlx.Tx, resource string, keys []string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processed_events(resource, key, added_at) VALUES(?,?,?)
			 ON CONFLICT(resource, key) DO NOTHING`, resource, k, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) PurgeProcessed(ctx context.Context, resource string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE resource = ?`, resource)
	return err
}

func (s *sqliteStore) GetVersionMark(ctx context.Context, pkg string) (string, bool, error) {
	var tag string
	err := s.db.GetContext(ctx, &tag, `SELECT tag FROM version_marks WHERE package = ?`, pkg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tag, true, nil
}

func (s *sqliteStore) PutVersionMark(ctx context.Context, pkg, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO version_marks(package, tag, updated_at) VALUES(?,?,?)
		 ON CONFLICT(package) DO UPDATE SET tag = excluded.tag, updated_at = excluded.updated_at`,
		pkg, tag, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) DeleteVersionMark(ctx context.Context, pkg string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM version_marks WHERE package = ?`, pkg)
	return err
}

func (s *sqliteStore) LoadTracked(ctx context.Context) ([]TrackedRecord, error) {
	var recs []TrackedRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT kind, name, upstream, chat_id, thread_id, added_by, added_at FROM tracked ORDER BY added_at, name`)
	return recs, err
}

func (s *sqliteStore) PutTracked(ctx context.Context, r TrackedRecord) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO tracked(kind, name, upstream, chat_id, thread_id, added_by, added_at)
		 VALUES(:kind, :name, :upstream, :chat_id, :thread_id, :added_by, :added_at)
		 ON CONFLICT(kind, name) DO UPDATE SET
		   upstream = excluded.upstream,
		   chat_id = excluded.chat_id,
		   thread_id = excluded.thread_id,
		   added_by = excluded.added_by,
		   added_at = excluded.added_at`, r)
	return err
}

func (s *sqliteStore) DeleteTracked(ctx context.Context, kind, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked WHERE kind = ? AND name = ?`, kind, name)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, target, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, nullStr(e.Target), nullStr(e.Error), e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
