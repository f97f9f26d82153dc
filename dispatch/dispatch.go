package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// NotExecuted is the exit status reported when nothing was run.
const NotExecuted = -1

// Backend runs one rendered command to completion.
type Backend interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Resources are the requests a task makes of the machine it runs on.
type Resources struct {
	Cores         int           `json:"cores"`
	MemoryPerCore string        `json:"memoryPerCore"`
	Runtime       time.Duration `json:"runtime"`
}

// Request is a command ready to run. Stdout and Stderr are file paths;
// when Combined is set both streams go to Stdout.
type Request struct {
	Name       string
	Argv       []string
	WorkingDir string
	Stdout     string
	Stderr     string
	Combined   bool
	Resources  Resources
	// Env holds variables passed through to remote jobs.
	Env      map[string]string
	Observer Observer
}

// Result describes a finished (or never started) execution.
type Result struct {
	ExitStatus int            `json:"exitStatus"`
	JobID      string         `json:"jobID,omitempty"`
	Submitted  time.Time      `json:"submitted,omitempty"`
	Started    time.Time      `json:"started,omitempty"`
	Ended      time.Time      `json:"ended,omitempty"`
	Usage      *ResourceUsage `json:"usage,omitempty"`
}

// ResourceUsage is the accounting record of a finished job. Times are in
// seconds; fields a backend cannot measure stay zero.
type ResourceUsage struct {
	WallClock           float64 `json:"wallclock"`
	UserTime            float64 `json:"utime"`
	SystemTime          float64 `json:"stime"`
	CPU                 float64 `json:"cpu"`
	Memory              float64 `json:"mem"`
	MaxVMem             float64 `json:"maxvmem"`
	MaxRSS              float64 `json:"maxrss"`
	IO                  float64 `json:"io"`
	IOWait              float64 `json:"iow"`
	InBlock             float64 `json:"inblock"`
	OutBlock            float64 `json:"oublock"`
	MinorFaults         float64 `json:"minflt"`
	MajorFaults         float64 `json:"majflt"`
	VoluntarySwitches   float64 `json:"nvcsw"`
	InvoluntarySwitches float64 `json:"nivcsw"`

	// Samples is the metrics series of a remote job, one point every
	// SamplingPeriod seconds.
	Samples        []UsageSample `json:"samples,omitempty"`
	SamplingPeriod float64       `json:"samplingPeriod,omitempty"`
}

// Observer is told about job progress as it happens.
type Observer interface {
	Submitted(jobID string, at time.Time)
	Started(at time.Time)
	Finished(at time.Time)
}

func notifySubmitted(o Observer, jobID string, at time.Time) {
	if o != nil {
		o.Submitted(jobID, at)
	}
}

func notifyStarted(o Observer, at time.Time) {
	if o != nil {
		o.Started(at)
	}
}

func notifyFinished(o Observer, at time.Time) {
	if o != nil {
		o.Finished(at)
	}
}

// openStreams creates the stdout and stderr files of a request. A combined
// request shares one handle between both streams.
func openStreams(req *Request) (stdout, stderr io.Writer, closeAll func(), err error) {
	create := func(path string) (*os.File, error) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open stream file %v: %v", path, err)
		}
		return f, nil
	}
	out, err := create(req.Stdout)
	if err != nil {
		return nil, nil, nil, err
	}
	if req.Combined || req.Stderr == req.Stdout {
		return out, out, func() { out.Close() }, nil
	}
	errFile, err := create(req.Stderr)
	if err != nil {
		out.Close()
		return nil, nil, nil, err
	}
	return out, errFile, func() { out.Close(); errFile.Close() }, nil
}
