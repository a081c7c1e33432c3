// Copyright 2026 The Panel Engine Authors
package reqchan

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SnapshotStore persists display_on_demand_config locally so a process
// restart can restore on-demand state even if Redis was flushed in the
// meantime, repurposed from a long-term job archive shape to a
// single-row local snapshot.
type SnapshotStore struct {
	db *sql.DB
}

func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS on_demand_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save upserts the single snapshot row with payload, the serialized
// display_on_demand_config.
func (s *SnapshotStore) Save(payload string) error {
	_, err := s.db.Exec(`INSERT INTO on_demand_config (id, payload, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the last saved payload, if any.
func (s *SnapshotStore) Load() (string, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM on_demand_config WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load snapshot: %w", err)
	}
	return payload, true, nil
}
