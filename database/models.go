package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type JsonBytesMap map[string]interface{}

func (p JsonBytesMap) Value() (driver.Value, error) {
	j, err := json.Marshal(p)
	return j, err
}

func (p *JsonBytesMap) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}
	source, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("type assertion .([]byte) failed")
	}

	var i interface{}
	err := json.Unmarshal(source, &i)
	if err != nil {
		return err
	}

	*p, ok = i.(map[string]interface{})
	if !ok {
		return fmt.Errorf("type assertion .(map[string]interface{}) failed")
	}

	return nil
}

// TaskRun is one row of the task_run table.
type TaskRun struct {
	ID         int64        `db:"id"`
	RunID      string       `db:"run_id"`
	Component  string       `db:"component"`
	Instance   string       `db:"instance"`
	Mode       string       `db:"mode"`
	Command    string       `db:"command"`
	JobID      string       `db:"job_id"`
	Status     string       `db:"status"`
	ExitStatus int64        `db:"exit_status"`
	Error      string       `db:"error"`
	Stats      JsonBytesMap `db:"stats"`
	Descriptor JsonBytesMap `db:"descriptor"`
	StartedAt  time.Time    `db:"started_at"`
	EndedAt    sql.NullTime `db:"ended_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

const schema = `CREATE TABLE IF NOT EXISTS task_run (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL UNIQUE,
	component   TEXT NOT NULL,
	instance    TEXT NOT NULL,
	mode        TEXT NOT NULL,
	command     TEXT NOT NULL DEFAULT '',
	job_id      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	exit_status BIGINT NOT NULL DEFAULT -1,
	error       TEXT NOT NULL DEFAULT '',
	stats       JSONB,
	descriptor  JSONB,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`
