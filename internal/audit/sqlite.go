package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SqliteSink appends audit records to a dedicated sqlite database, kept
// separate from the operational store so the trail survives store resets.
type SqliteSink struct {
	mu     sync.Mutex
	db     *sql.DB
	ownsDB bool
}

func NewSqliteSink(path string) (*SqliteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteSink{db: db, ownsDB: true}, nil
}

func ensureSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	actor TEXT,
	detail TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject_id);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);`
	_, err := db.Exec(ddl)
	return err
}

func (s *SqliteSink) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO audit_log (ts, kind, subject_id, actor, detail) VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixMilli(), rec.Kind, rec.SubjectID, rec.Actor, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("audit append failed: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. Used by the projection
// API for operator review.
func (s *SqliteSink) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT ts, kind, subject_id, actor, detail FROM audit_log ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var actor, detail sql.NullString
		if err := rows.Scan(&ts, &rec.Kind, &rec.SubjectID, &actor, &detail); err != nil {
			return nil, err
		}
		rec.Timestamp = time.UnixMilli(ts)
		rec.Actor = actor.String
		rec.Detail = detail.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SqliteSink) Close() error {
	if s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
