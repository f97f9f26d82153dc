package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zavolanlab/krini/database"
	eventlog "github.com/zavolanlab/krini/logging"
	"github.com/zavolanlab/krini/storage"
)

// Recorder is told when a run begins and ends. A failing recorder never
// fails the run.
type Recorder interface {
	Begin(ctx context.Context, rec *RunRecord) error
	End(ctx context.Context, rec *RunRecord) error
}

func (e *Engine) begin(ctx context.Context, rec *RunRecord) {
	for _, r := range e.Recorders {
		if err := r.Begin(ctx, rec); err != nil {
			rec.Event.Warnf("failed to record run start: %v", err)
		}
	}
}

func (e *Engine) end(ctx context.Context, rec *RunRecord) {
	for _, r := range e.Recorders {
		if err := r.End(ctx, rec); err != nil {
			rec.Event.Warnf("failed to record run end: %v", err)
		}
	}
}

// HistoryRecorder keeps one task_run row per run.
type HistoryRecorder struct {
	Dao database.Dao
	id  int64
}

func (h *HistoryRecorder) Begin(ctx context.Context, rec *RunRecord) error {
	run, err := taskRun(rec)
	if err != nil {
		return err
	}
	id, err := h.Dao.CreateRun(run)
	if err != nil {
		return err
	}
	h.id = id
	return nil
}

func (h *HistoryRecorder) End(ctx context.Context, rec *RunRecord) error {
	if h.id == 0 {
		return fmt.Errorf("run %s was never recorded", rec.RunID)
	}
	run, err := taskRun(rec)
	if err != nil {
		return err
	}
	run.ID = h.id
	return h.Dao.UpdateRun(run)
}

func taskRun(rec *RunRecord) (*database.TaskRun, error) {
	run := &database.TaskRun{
		RunID:      rec.RunID,
		Component:  rec.Component,
		Instance:   rec.Instance,
		Mode:       rec.Mode,
		Status:     rec.Status,
		ExitStatus: int64(rec.ExitStatus),
		Error:      rec.Error,
		StartedAt:  rec.CreatedObj,
	}
	if rec.Command != nil {
		run.Command = rec.Command.String()
	}
	if rec.Result != nil {
		run.JobID = rec.Result.JobID
		stats, err := jsonMap(rec.Result)
		if err != nil {
			return nil, err
		}
		run.Stats = stats
	}
	if rec.Declared != nil {
		declared, err := jsonMap(rec.Declared)
		if err != nil {
			return nil, err
		}
		run.Descriptor = declared
	}
	if rec.Status == eventlog.Completed || rec.Status == eventlog.Failed {
		run.EndedAt = sql.NullTime{Time: rec.LastUpdatedObj, Valid: true}
	}
	return run, nil
}

func jsonMap(v interface{}) (database.JsonBytesMap, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := database.JsonBytesMap{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ArchiveRecorder uploads the run record and the captured streams under
// <prefix>/<component>/<instance>/<run id>/.
type ArchiveRecorder struct {
	Archive *storage.S3Archive
}

func (a *ArchiveRecorder) Begin(ctx context.Context, rec *RunRecord) error {
	return nil
}

func (a *ArchiveRecorder) End(ctx context.Context, rec *RunRecord) error {
	if err := a.Archive.PutJSON(ctx, a.key(rec, "record.json"), rec); err != nil {
		return err
	}
	for _, p := range []string{rec.Stdout, rec.Stderr} {
		if p == "" {
			continue
		}
		err := a.Archive.PutFile(ctx, a.key(rec, filepath.Base(p)), p)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (a *ArchiveRecorder) key(rec *RunRecord, name string) string {
	return a.Archive.Key(rec.Component, rec.Instance, rec.RunID, name)
}
