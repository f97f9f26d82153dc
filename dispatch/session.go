package dispatch

import (
	"context"
	"errors"
	"time"
)

// JobState is the state of a job as reported by the batch scheduler.
type JobState string

const (
	StateUndetermined        JobState = "undetermined"
	StateQueuedActive        JobState = "queued_active"
	StateSystemOnHold        JobState = "system_on_hold"
	StateUserOnHold          JobState = "user_on_hold"
	StateUserSystemOnHold    JobState = "user_system_on_hold"
	StateRunning             JobState = "running"
	StateSystemSuspended     JobState = "system_suspended"
	StateUserSuspended       JobState = "user_suspended"
	StateUserSystemSuspended JobState = "user_system_suspended"
	StateDone                JobState = "done"
	StateFailed              JobState = "failed"
)

// ErrExitTimeout is returned by Session.Wait when the job did not finish in time.
var ErrExitTimeout = errors.New("timed out waiting for job to finish")

// JobTemplate describes a job to submit.
type JobTemplate struct {
	JobName          string
	RemoteCommand    string
	Args             []string
	WorkingDirectory string
	OutputPath       string
	ErrorPath        string
	JoinFiles        bool
	Cores            int
	MemoryPerCore    string
	Runtime          time.Duration
	Env              map[string]string
}

// JobInfo is the completion record of a job.
type JobInfo struct {
	JobID            string
	HasExited        bool
	ExitStatus       int
	HasSignal        bool
	TerminatedSignal string
	WasAborted       bool
	Submitted        time.Time
	Started          time.Time
	Ended            time.Time
	Usage            *ResourceUsage
}

// Session is a connection to a batch scheduler. Job templates are
// resources of the session and must be deleted before it is closed.
type Session interface {
	NewJobTemplate() (*JobTemplate, error)
	DeleteJobTemplate(jt *JobTemplate) error
	Submit(ctx context.Context, jt *JobTemplate) (jobID string, err error)
	Status(ctx context.Context, jobID string) (JobState, error)
	// Wait blocks until the job finishes or timeout passes, in which case
	// it returns ErrExitTimeout.
	Wait(ctx context.Context, jobID string, timeout time.Duration) (*JobInfo, error)
	Terminate(ctx context.Context, jobID string) error
	Close() error
}
