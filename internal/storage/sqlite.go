package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"schedbot/pkg/logx"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	id      TEXT PRIMARY KEY,
	at      TEXT NOT NULL,
	tenant  TEXT NOT NULL,
	actor   TEXT NOT NULL,
	action  TEXT NOT NULL,
	target  TEXT,
	ok      INTEGER NOT NULL DEFAULT 0,
	fail    INTEGER NOT NULL DEFAULT 0,
	err     TEXT,
	took_ms INTEGER NOT NULL DEFAULT 0,
	meta    TEXT
);
CREATE INDEX IF NOT EXISTS audit_tenant_at ON audit(tenant, at);
`

// atLayout is fixed width so ORDER BY at sorts chronologically.
const atLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("storage opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	stamp(&e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, tenant, actor, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UTC().Format(atLayout), e.Tenant, e.Actor, e.Action, nullStr(e.Target),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.Meta),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, tenant string, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, tenant, actor, action, target, ok, fail, err, took_ms, meta
		 FROM audit WHERE (? = '' OR tenant = ?) ORDER BY at DESC LIMIT ?`,
		tenant, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                 AuditEntry
			at                string
			target, msg, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Tenant, &e.Actor, &e.Action, &target, &e.OK, &e.Fail, &msg, &e.TookMS, &meta); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(atLayout, at)
		e.Target, e.Error, e.Meta = target.String, msg.String, meta.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
