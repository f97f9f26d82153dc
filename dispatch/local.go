package dispatch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zavolanlab/krini/taskerr"
)

// LocalBackend runs the command as a child process of the engine.
type LocalBackend struct {
	Log logrus.FieldLogger
}

func NewLocalBackend(log logrus.FieldLogger) *LocalBackend {
	return &LocalBackend{Log: log}
}

// Execute blocks until the child exits. A non-zero exit status is a
// result, not an error; a child killed by a signal reports -signal.
func (b *LocalBackend) Execute(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Argv) == 0 {
		return nil, taskerr.New(taskerr.ExecutionFailed, req.Name, "empty command")
	}
	stdout, stderr, closeStreams, err := openStreams(req)
	if err != nil {
		return nil, taskerr.Wrap(taskerr.ExecutionFailed, req.Name, err)
	}
	defer closeStreams()

	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.WorkingDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	res := &Result{Started: time.Now()}
	if err = cmd.Start(); err != nil {
		return nil, taskerr.Wrap(taskerr.ExecutionFailed, req.Argv[0], err)
	}
	notifyStarted(req.Observer, res.Started)
	b.Log.WithField("pid", cmd.Process.Pid).Infof("started %v", req.Argv[0])

	err = cmd.Wait()
	res.Ended = time.Now()
	notifyFinished(req.Observer, res.Ended)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, taskerr.Wrap(taskerr.ExecutionFailed, req.Argv[0], err)
		}
	}
	res.ExitStatus = exitStatus(cmd.ProcessState)
	res.Usage = processUsage(cmd.ProcessState, res.Ended.Sub(res.Started))
	b.Log.WithField("exit_status", res.ExitStatus).Infof("%v finished", req.Argv[0])
	return res, nil
}

func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

func processUsage(state *os.ProcessState, wall time.Duration) *ResourceUsage {
	usage := &ResourceUsage{
		WallClock:  wall.Seconds(),
		UserTime:   state.UserTime().Seconds(),
		SystemTime: state.SystemTime().Seconds(),
	}
	usage.CPU = usage.UserTime + usage.SystemTime
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		usage.MaxRSS = float64(ru.Maxrss)
		usage.InBlock = float64(ru.Inblock)
		usage.OutBlock = float64(ru.Oublock)
		usage.MinorFaults = float64(ru.Minflt)
		usage.MajorFaults = float64(ru.Majflt)
		usage.VoluntarySwitches = float64(ru.Nvcsw)
		usage.InvoluntarySwitches = float64(ru.Nivcsw)
	}
	return usage
}

// NoopBackend executes nothing. It backs dry runs.
type NoopBackend struct{}

func (NoopBackend) Execute(ctx context.Context, req *Request) (*Result, error) {
	return &Result{ExitStatus: NotExecuted}, nil
}
