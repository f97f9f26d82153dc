package engine

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/dispatch"
	eventlog "github.com/zavolanlab/krini/logging"
	"github.com/zavolanlab/krini/taskerr"
	"github.com/zavolanlab/krini/template"
)

// RunRecord is everything known about one task run. It is what the
// history and archive recorders persist.
type RunRecord struct {
	RunID      string            `json:"runID"`
	Component  string            `json:"component"`
	Instance   string            `json:"instance"`
	Mode       string            `json:"mode"`
	Command    *template.Command `json:"command,omitempty"`
	Stdout     string            `json:"stdout,omitempty"`
	Stderr     string            `json:"stderr,omitempty"`
	Result     *dispatch.Result  `json:"result,omitempty"`
	ExitStatus int               `json:"exitStatus"`
	ErrorKind  taskerr.Kind      `json:"errorKind,omitempty"`
	Error      string            `json:"error,omitempty"`
	// Declared is the descriptor as given, before validation rewrote it.
	Declared *descriptor.Task `json:"declared,omitempty"`

	*eventlog.Log
}

func newRunRecord(task *descriptor.Task, log logrus.FieldLogger) *RunRecord {
	rec := &RunRecord{
		RunID:      uuid.New().String(),
		Component:  task.Metadata.ComponentName,
		Instance:   task.Metadata.InstanceName,
		Mode:       task.Parameters[descriptor.ParamExecMode],
		ExitStatus: dispatch.NotExecuted,
	}
	rec.Log = eventlog.New(log.WithFields(rec.Fields()))
	declared, err := task.Clone()
	if err != nil {
		rec.Event.Warnf("failed to snapshot descriptor: %v", err)
	} else {
		rec.Declared = declared
	}
	return rec
}

// Fields identifies the run in structured log output.
func (rec *RunRecord) Fields() logrus.Fields {
	return logrus.Fields{
		"component": rec.Component,
		"instance":  rec.Instance,
		"run_id":    rec.RunID,
	}
}

func (rec *RunRecord) fail(err error) {
	rec.ErrorKind = taskerr.KindOf(err)
	rec.Error = err.Error()
	rec.Log.Fail(err)
}
