// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package store persists approval rules and the permission audit log.
// Plans and subtasks stay in-process; this is the only durable state.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// ApprovalRule is a remembered always/never decision.
type ApprovalRule struct {
	ID        string
	Kind      string
	Action    string
	Target    string
	Decision  string // approve | deny
	CreatedAt time.Time
}

// ApprovalRecord is one audit-log row for a routed permission request.
type ApprovalRecord struct {
	RequestID string
	WorkerID  string
	Kind      string
	Action    string
	Target    string
	Decision  string
	DecidedBy string
	Reason    string
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS approval_rules (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		decision TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(kind, action, target)
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS approval_audit (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		worker_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		decision TEXT NOT NULL,
		decided_by TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME NOT NULL
	);`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRule upserts a remembered decision for (kind, action, target).
func (s *Store) SaveRule(ctx context.Context, r ApprovalRule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_rules (id, kind, action, target, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, action, target) DO UPDATE SET decision=excluded.decision`,
		r.ID, r.Kind, r.Action, r.Target, r.Decision, r.CreatedAt)
	return err
}

// LookupRule returns the remembered decision for an exact triple, or
// nil when none is recorded.
func (s *Store) LookupRule(ctx context.Context, kind, action, target string) (*ApprovalRule, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, kind, action, target, decision, created_at FROM approval_rules WHERE kind=? AND action=? AND target=?",
		kind, action, target)
	var r ApprovalRule
	err := row.Scan(&r.ID, &r.Kind, &r.Action, &r.Target, &r.Decision, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRule removes a remembered decision.
func (s *Store) DeleteRule(ctx context.Context, kind, action, target string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM approval_rules WHERE kind=? AND action=? AND target=?", kind, action, target)
	return err
}

// RecordAudit appends one decision to the audit log.
func (s *Store) RecordAudit(ctx context.Context, r ApprovalRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_audit (request_id, worker_id, kind, action, target, decision, decided_by, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.WorkerID, r.Kind, r.Action, r.Target, r.Decision, r.DecidedBy, r.Reason, r.CreatedAt)
	return err
}

// RecentAudit returns the newest audit rows, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]ApprovalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, worker_id, kind, action, target, decision, decided_by, COALESCE(reason, ''), created_at
		 FROM approval_audit ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRecord
	for rows.Next() {
		var r ApprovalRecord
		if err := rows.Scan(&r.RequestID, &r.WorkerID, &r.Kind, &r.Action, &r.Target,
			&r.Decision, &r.DecidedBy, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
