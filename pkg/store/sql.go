package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/foundry-run/foundry/pkg/state"
)

// SQLBackend is the pluggable SQL-backed Backend (SPEC_FULL.md §11
// domain-stack row: "pluggable SQL backends for SupervisorState/
// queue/audit persistence, mirroring pkg/hector's TaskServiceBuilder.Backend(\"memory\"|\"sql\")
// pattern"). One row per project, each column a JSON blob; each save
// runs in one transaction that inserts the row or updates the supplied
// columns, the SQL counterpart of the file backend's temp+rename (P7).
type SQLBackend struct {
	db     *sql.DB
	driver string
}

// driverPlaceholder returns the positional-parameter placeholder for
// the Nth (1-indexed) bind variable under driver's dialect.
func driverPlaceholder(driver string, n int) string {
	if driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// OpenSQLBackend opens (or creates) the foundry_state table using
// driver ("sqlite3", "mysql", or "postgres") against dsn.
func OpenSQLBackend(driver, dsn string) (*SQLBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	b := &SQLBackend{db: db, driver: driver}
	if err := b.migrate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) migrate() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS foundry_state (
		project_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		ready_json TEXT NOT NULL,
		waiting_json TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SaveState upserts the SupervisorState column for projectID, leaving
// the queue columns untouched if the row already exists.
func (b *SQLBackend) SaveState(projectID string, s *state.SupervisorState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}
	return b.upsert(projectID, &data, nil, nil)
}

// LoadState reads the SupervisorState column for projectID.
func (b *SQLBackend) LoadState(projectID string) (*state.SupervisorState, bool, error) {
	var raw string
	q := fmt.Sprintf("SELECT state_json FROM foundry_state WHERE project_id = %s", driverPlaceholder(b.driver, 1))
	err := b.db.QueryRow(q, projectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: query state: %w", err)
	}
	var s state.SupervisorState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, fmt.Errorf("store: unmarshal state: %w", err)
	}
	if !s.Valid() {
		return nil, false, fmt.Errorf("store: %w", ErrCorruptState)
	}
	return &s, true, nil
}

// SaveQueueLists upserts the ready/waiting columns for projectID.
func (b *SQLBackend) SaveQueueLists(projectID string, ready, waiting []string) error {
	readyData, err := json.Marshal(ready)
	if err != nil {
		return fmt.Errorf("store: marshal ready: %w", err)
	}
	waitingData, err := json.Marshal(waiting)
	if err != nil {
		return fmt.Errorf("store: marshal waiting: %w", err)
	}
	return b.upsert(projectID, nil, &readyData, &waitingData)
}

// LoadQueueLists reads the ready/waiting columns for projectID.
func (b *SQLBackend) LoadQueueLists(projectID string) (ready, waiting []string, err error) {
	var readyRaw, waitingRaw string
	q := fmt.Sprintf("SELECT ready_json, waiting_json FROM foundry_state WHERE project_id = %s", driverPlaceholder(b.driver, 1))
	e := b.db.QueryRow(q, projectID).Scan(&readyRaw, &waitingRaw)
	if e == sql.ErrNoRows {
		return nil, nil, nil
	}
	if e != nil {
		return nil, nil, fmt.Errorf("store: query queue: %w", e)
	}
	if err := json.Unmarshal([]byte(readyRaw), &ready); err != nil {
		return nil, nil, fmt.Errorf("store: unmarshal ready: %w", err)
	}
	if err := json.Unmarshal([]byte(waitingRaw), &waiting); err != nil {
		return nil, nil, fmt.Errorf("store: unmarshal waiting: %w", err)
	}
	return ready, waiting, nil
}

// upsert inserts a row for projectID if absent, otherwise updates only
// the non-nil columns supplied.
func (b *SQLBackend) upsert(projectID string, stateJSON, readyJSON, waitingJSON *[]byte) error {
	empty := []byte("[]")
	state := "{}"
	ready := empty
	waiting := empty
	if stateJSON != nil {
		state = string(*stateJSON)
	}
	if readyJSON != nil {
		ready = *readyJSON
	}
	if waitingJSON != nil {
		waiting = *waitingJSON
	}

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	selectQ := fmt.Sprintf("SELECT state_json, ready_json, waiting_json FROM foundry_state WHERE project_id = %s", driverPlaceholder(b.driver, 1))
	var existingState, existingReady, existingWaiting string
	err = tx.QueryRow(selectQ, projectID).Scan(&existingState, &existingReady, &existingWaiting)
	switch {
	case err == sql.ErrNoRows:
		insertQ := fmt.Sprintf("INSERT INTO foundry_state (project_id, state_json, ready_json, waiting_json) VALUES (%s, %s, %s, %s)",
			driverPlaceholder(b.driver, 1), driverPlaceholder(b.driver, 2), driverPlaceholder(b.driver, 3), driverPlaceholder(b.driver, 4))
		if _, err := tx.Exec(insertQ, projectID, state, ready, waiting); err != nil {
			return fmt.Errorf("store: insert: %w", err)
		}
	case err != nil:
		return fmt.Errorf("store: select existing: %w", err)
	default:
		if stateJSON == nil {
			state = existingState
		}
		if readyJSON == nil {
			ready = []byte(existingReady)
		}
		if waitingJSON == nil {
			waiting = []byte(existingWaiting)
		}
		updateQ := fmt.Sprintf("UPDATE foundry_state SET state_json = %s, ready_json = %s, waiting_json = %s WHERE project_id = %s",
			driverPlaceholder(b.driver, 1), driverPlaceholder(b.driver, 2), driverPlaceholder(b.driver, 3), driverPlaceholder(b.driver, 4))
		if _, err := tx.Exec(updateQ, state, ready, waiting, projectID); err != nil {
			return fmt.Errorf("store: update: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying *sql.DB.
func (b *SQLBackend) Close() error { return b.db.Close() }
