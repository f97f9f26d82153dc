package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zavolanlab/krini/taskerr"
)

const terminateTimeout = 30 * time.Second

// BatchBackend submits the command to a batch scheduler and follows the
// job until it finishes. The backend owns the session and closes it when
// Execute returns.
type BatchBackend struct {
	Session Session
	Policy  PollPolicy
	Sleep   func(ctx context.Context, d time.Duration) error
	Log     logrus.FieldLogger
}

func NewBatchBackend(session Session, policy PollPolicy, log logrus.FieldLogger) *BatchBackend {
	return &BatchBackend{Session: session, Policy: policy, Sleep: Sleep, Log: log}
}

func (b *BatchBackend) Execute(ctx context.Context, req *Request) (res *Result, err error) {
	defer func() {
		if cerr := b.Session.Close(); cerr != nil {
			b.Log.Warnf("failed to close scheduler session: %v", cerr)
		}
	}()
	if len(req.Argv) == 0 {
		return nil, taskerr.New(taskerr.SubmissionFailed, req.Name, "empty command")
	}

	jt, err := b.Session.NewJobTemplate()
	if err != nil {
		return nil, taskerr.Wrap(taskerr.SubmissionFailed, req.Name, err)
	}
	defer func() {
		if derr := b.Session.DeleteJobTemplate(jt); derr != nil {
			b.Log.Warnf("failed to delete job template: %v", derr)
		}
	}()
	jt.JobName = req.Name
	jt.RemoteCommand = req.Argv[0]
	jt.Args = req.Argv[1:]
	jt.WorkingDirectory = req.WorkingDir
	jt.OutputPath = req.Stdout
	jt.ErrorPath = req.Stderr
	jt.JoinFiles = req.Combined
	jt.Cores = req.Resources.Cores
	jt.MemoryPerCore = req.Resources.MemoryPerCore
	jt.Runtime = req.Resources.Runtime
	jt.Env = req.Env

	jobID, err := b.Session.Submit(ctx, jt)
	if err != nil {
		return nil, taskerr.Wrap(taskerr.SubmissionFailed, req.Name, err)
	}
	res = &Result{JobID: jobID, Submitted: time.Now()}
	notifySubmitted(req.Observer, jobID, res.Submitted)
	log := b.Log.WithField("job_id", jobID)
	log.Info("job submitted")

	if err = b.awaitStart(ctx, jobID, log); err != nil {
		if ctx.Err() != nil {
			b.terminate(jobID, log)
			return res, taskerr.Wrap(taskerr.JobAborted, jobID, ctx.Err())
		}
		return res, err
	}
	res.Started = time.Now()
	notifyStarted(req.Observer, res.Started)
	log.Info("job running")

	info, err := b.Session.Wait(ctx, jobID, req.Resources.Runtime)
	res.Ended = time.Now()
	if err != nil {
		switch {
		case errors.Is(err, ErrExitTimeout):
			b.terminate(jobID, log)
			return res, taskerr.New(taskerr.JobTimeout, jobID, "job did not finish within %v", req.Resources.Runtime)
		case ctx.Err() != nil:
			b.terminate(jobID, log)
			return res, taskerr.Wrap(taskerr.JobAborted, jobID, ctx.Err())
		}
		return res, taskerr.Wrap(taskerr.JobFailed, jobID, err)
	}
	switch {
	case info.WasAborted:
		return res, taskerr.New(taskerr.JobAborted, jobID, "job was aborted")
	case info.HasSignal:
		return res, taskerr.New(taskerr.JobKilled, jobID, "job was killed by signal %v", info.TerminatedSignal)
	case !info.HasExited:
		return res, taskerr.New(taskerr.JobExitedAbnormally, jobID, "job did not exit normally")
	}

	res.ExitStatus = info.ExitStatus
	res.Usage = info.Usage
	if !info.Submitted.IsZero() {
		res.Submitted = info.Submitted
	}
	if !info.Started.IsZero() {
		res.Started = info.Started
	}
	if !info.Ended.IsZero() {
		res.Ended = info.Ended
	}
	notifyFinished(req.Observer, res.Ended)
	log.WithField("exit_status", res.ExitStatus).Info("job finished")
	return res, nil
}

// awaitStart polls the job until it runs, fails or is found stuck.
func (b *BatchBackend) awaitStart(ctx context.Context, jobID string, log logrus.FieldLogger) error {
	tries := b.Policy.InactiveTries
	for {
		state, err := b.Session.Status(ctx, jobID)
		if err != nil {
			log.Warnf("failed to query job status: %v", err)
			state = StateUndetermined
		}
		var action PollAction
		tries, action = b.Policy.Next(tries, state)
		switch action {
		case PollStart:
			return nil
		case PollFail:
			return taskerr.New(taskerr.JobFailed, jobID, "scheduler reports the job as failed")
		case PollStuck:
			if err := b.Session.Terminate(ctx, jobID); err != nil {
				log.Errorf("failed to terminate stuck job: %v", err)
			}
			return taskerr.New(taskerr.JobStuck, jobID, "job stayed in state %v for %d polls", state, b.Policy.InactiveTries)
		case PollInactive:
			log.Warnf("job is in state %v, %d tries left", state, tries)
		}
		if err := b.Sleep(ctx, b.Policy.Interval(action)); err != nil {
			return err
		}
	}
}

// terminate removes a job that is left behind by a timeout or a cancelled
// run. It does not use the run's context, which may already be done.
func (b *BatchBackend) terminate(jobID string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := b.Session.Terminate(ctx, jobID); err != nil {
		log.Errorf("failed to terminate job: %v", err)
		return
	}
	log.Info("job terminated")
}
