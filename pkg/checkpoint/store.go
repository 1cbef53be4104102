// Copyright 2025 Origin Notes Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint persists per-thread turn-state snapshots in SQLite.
//
// Layout:
//
//	checkpoints(thread_id, checkpoint_id, state, created_at)
//	writes(thread_id, checkpoint_id, channel, value)
//
// checkpoint_id is monotone per thread; the latest row is the resumable
// state. A pending approval interrupt is a row in writes with
// channel='__interrupt__' bound to the latest checkpoint_id. For
// databases created by older builds the writes table instead carries a
// path column whose value contains '__interrupt__'; reads handle both.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const interruptChannel = "__interrupt__"

// ErrNotFound is returned when a thread has no checkpoints.
var ErrNotFound = errors.New("checkpoint not found")

// ThreadInfo summarizes one thread for session listing.
type ThreadInfo struct {
	ThreadID         string
	LatestCheckpoint int64
}

// Store is a SQLite-backed checkpoint store. Writes to the same thread
// are serialized via per-thread mutexes; see LockThread.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	threads map[string]*sync.Mutex

	schemaOnce   sync.Once
	legacyWrites bool
}

// Open opens (creating if needed) the checkpoint database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, threads: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id     TEXT    NOT NULL,
	checkpoint_id INTEGER NOT NULL,
	state         BLOB    NOT NULL,
	created_at    TEXT    NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (thread_id, checkpoint_id)
);
CREATE TABLE IF NOT EXISTS writes (
	thread_id     TEXT    NOT NULL,
	checkpoint_id INTEGER NOT NULL,
	channel       TEXT    NOT NULL,
	value         BLOB
);
CREATE INDEX IF NOT EXISTS idx_writes_thread ON writes (thread_id);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return nil
}

// hasLegacyWrites probes the writes table columns once.
func (s *Store) hasLegacyWrites() bool {
	s.schemaOnce.Do(func() {
		rows, err := s.db.Query(`PRAGMA table_info(writes)`)
		if err != nil {
			return
		}
		defer rows.Close()
		hasChannel, hasPath := false, false
		for rows.Next() {
			var (
				cid     int
				name    string
				colType string
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				return
			}
			switch name {
			case "channel":
				hasChannel = true
			case "path":
				hasPath = true
			}
		}
		s.legacyWrites = hasPath && !hasChannel
		if s.legacyWrites {
			slog.Info("Checkpoint store: legacy writes schema detected")
		}
	})
	return s.legacyWrites
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LockThread acquires the per-thread mutex and returns its release func.
// The supervisor holds it for a whole turn so concurrent requests on one
// thread are serialized.
func (s *Store) LockThread(threadID string) func() {
	s.mu.Lock()
	m, ok := s.threads[threadID]
	if !ok {
		m = &sync.Mutex{}
		s.threads[threadID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Put persists a new checkpoint for threadID and returns its monotone id.
func (s *Store) Put(ctx context.Context, threadID string, state []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin checkpoint write: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(checkpoint_id), 0) + 1 FROM checkpoints WHERE thread_id = ?`,
		threadID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate checkpoint id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, checkpoint_id, state) VALUES (?, ?, ?)`,
		threadID, next, state,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return next, nil
}

// Latest returns the newest checkpoint for threadID, or ErrNotFound.
func (s *Store) Latest(ctx context.Context, threadID string) (int64, []byte, error) {
	var (
		id    int64
		state []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint_id, state FROM checkpoints
		 WHERE thread_id = ? ORDER BY checkpoint_id DESC LIMIT 1`,
		threadID,
	).Scan(&id, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	return id, state, nil
}

// PutInterrupt records a pending approval payload on checkpointID.
func (s *Store) PutInterrupt(ctx context.Context, threadID string, checkpointID int64, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO writes (thread_id, checkpoint_id, channel, value) VALUES (?, ?, ?, ?)`,
		threadID, checkpointID, interruptChannel, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to write interrupt: %w", err)
	}
	return nil
}

// PendingInterrupts returns the interrupt payloads bound to the latest
// checkpoint of threadID. Both the modern channel-tagged and the legacy
// path-tagged writes schemas are understood.
func (s *Store) PendingInterrupts(ctx context.Context, threadID string) ([][]byte, error) {
	latest, _, err := s.Latest(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if s.hasLegacyWrites() {
		rows, err = s.db.QueryContext(ctx,
			`SELECT value FROM writes WHERE thread_id = ? AND path LIKE '%`+interruptChannel+`%'`,
			threadID,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT value FROM writes WHERE thread_id = ? AND checkpoint_id = ? AND channel = '`+interruptChannel+`'`,
			threadID, latest,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending interrupts: %w", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan interrupt row: %w", err)
		}
		payloads = append(payloads, value)
	}
	return payloads, rows.Err()
}

// HasPendingInterrupt reports whether the thread is paused on approval.
func (s *Store) HasPendingInterrupt(ctx context.Context, threadID string) (bool, error) {
	payloads, err := s.PendingInterrupts(ctx, threadID)
	if err != nil {
		return false, err
	}
	return len(payloads) > 0, nil
}

// ClearInterrupts removes all interrupt records of threadID, typically
// after a resume decision was consumed.
func (s *Store) ClearInterrupts(ctx context.Context, threadID string) error {
	var err error
	if s.hasLegacyWrites() {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM writes WHERE thread_id = ? AND path LIKE '%`+interruptChannel+`%'`, threadID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM writes WHERE thread_id = ? AND channel = '`+interruptChannel+`'`, threadID)
	}
	if err != nil {
		return fmt.Errorf("failed to clear interrupts: %w", err)
	}
	return nil
}

// Clear deletes every checkpoint and write of threadID.
func (s *Store) Clear(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM writes WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to clear writes: %w", err)
	}
	return tx.Commit()
}

// ListThreads returns threads ordered by latest activity.
func (s *Store) ListThreads(ctx context.Context, limit int) ([]ThreadInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT thread_id, MAX(checkpoint_id) AS latest_checkpoint
		 FROM checkpoints
		 GROUP BY thread_id
		 ORDER BY latest_checkpoint DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var infos []ThreadInfo
	for rows.Next() {
		var info ThreadInfo
		if err := rows.Scan(&info.ThreadID, &info.LatestCheckpoint); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
