/*
Copyright 2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sqlite implements the state backend on top of a sqlite database.
package sqlite

import (
	"database/sql"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gravitational/vigil/lib/checker"
	"github.com/gravitational/vigil/lib/defaults"
)

const schema = `
CREATE TABLE IF NOT EXISTS service (
	id	INTEGER PRIMARY KEY NOT NULL,
	name	TEXT UNIQUE
);

-- current state per service, replaced on every flush
CREATE TABLE IF NOT EXISTS service_state (
	service			INTEGER UNIQUE NOT NULL,
	state			TEXT NOT NULL,
	state_type		TEXT NOT NULL,
	check_attempt		INTEGER NOT NULL,
	next_check		TIMESTAMP,
	last_state_change	TIMESTAMP,
	last_hard_state_change	TIMESTAMP,
	last_in_downtime	INTEGER NOT NULL DEFAULT 0,
	current_checker		TEXT,
	output			TEXT,
	captured_at		TIMESTAMP NOT NULL
);
`

// New opens (creating as necessary) the state database in dataDir.
func New(dataDir string) (*Backend, error) {
	db, err := sqlx.Open("sqlite3", filepath.Join(dataDir, defaults.DBFile))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &Backend{DB: db}, nil
}

// Backend stores the current per-service state in sqlite.
type Backend struct {
	*sqlx.DB
}

// Flush stores the snapshot as the current state of the service.
func (r *Backend) Flush(snapshot checker.ServiceSnapshot) error {
	err := r.inTx(func(tx *sqlx.Tx) error {
		id, err := upsertService(tx, snapshot.Name)
		if err != nil {
			return trace.Wrap(err)
		}
		const replaceStmt = `
		INSERT OR REPLACE INTO service_state
		(service, state, state_type, check_attempt, next_check,
		 last_state_change, last_hard_state_change, last_in_downtime,
		 current_checker, output, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = tx.Exec(replaceStmt,
			id,
			snapshot.State.String(),
			snapshot.StateType.String(),
			snapshot.CheckAttempt,
			nullTime(snapshot.NextCheck),
			nullTime(snapshot.LastStateChange),
			nullTime(snapshot.LastHardStateChange),
			snapshot.LastInDowntime,
			snapshot.CurrentChecker,
			snapshot.Output,
			snapshot.CapturedAt,
		)
		return trace.Wrap(err)
	})
	return trace.Wrap(err)
}

// RecentService reads the last stored snapshot for the named service.
func (r *Backend) RecentService(name string) (*checker.ServiceSnapshot, error) {
	const selectStmt = `
	SELECT s.state, s.state_type, s.check_attempt, s.next_check,
	       s.last_state_change, s.last_hard_state_change,
	       s.last_in_downtime, s.current_checker, s.output, s.captured_at
	FROM service_state s JOIN service n ON s.service = n.id
	WHERE n.name = ?
	`
	snapshot := checker.ServiceSnapshot{Name: name}
	var (
		state, stateType                        string
		nextCheck, stateChange, hardStateChange sql.NullTime
	)
	err := r.QueryRow(selectStmt, name).Scan(
		&state,
		&stateType,
		&snapshot.CheckAttempt,
		&nextCheck,
		&stateChange,
		&hardStateChange,
		&snapshot.LastInDowntime,
		&snapshot.CurrentChecker,
		&snapshot.Output,
		&snapshot.CapturedAt,
	)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("no state stored for service %q", name)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	snapshot.State = checker.StateFromString(state)
	snapshot.StateType = checker.StateTypeFromString(stateType)
	snapshot.NextCheck = timeValue(nextCheck)
	snapshot.LastStateChange = timeValue(stateChange)
	snapshot.LastHardStateChange = timeValue(hardStateChange)
	return &snapshot, nil
}

// Close closes the database.
func (r *Backend) Close() error {
	return trace.Wrap(r.DB.Close())
}

func upsertService(tx *sqlx.Tx, name string) (id int64, err error) {
	res, err := tx.Exec(`INSERT OR IGNORE INTO service (name) VALUES (?)`, name)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if id, err = res.LastInsertId(); err == nil {
			return id, nil
		}
	}
	err = tx.QueryRow(`SELECT id FROM service WHERE name = ?`, name).Scan(&id)
	return id, trace.Wrap(err)
}

func (r *Backend) inTx(f func(tx *sqlx.Tx) error) error {
	tx, err := r.Beginx()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit())
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func timeValue(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
