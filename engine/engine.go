package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zavolanlab/krini/config"
	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/dispatch"
	"github.com/zavolanlab/krini/report"
	"github.com/zavolanlab/krini/taskerr"
	"github.com/zavolanlab/krini/template"
	"github.com/zavolanlab/krini/validate"
)

// Engine runs one task descriptor through validation, rendering,
// execution, reporting and output repair.
type Engine struct {
	Conf      *config.Config
	Syntax    template.Syntax
	Validator *validate.Validator
	// NewSession opens the batch scheduler session for remote runs.
	NewSession func() (dispatch.Session, error)
	// Sleep paces the remote polling loop; nil means dispatch.Sleep.
	Sleep     func(ctx context.Context, d time.Duration) error
	Recorders []Recorder
	Out       io.Writer
	Log       logrus.FieldLogger
}

func New(conf *config.Config, out io.Writer, log logrus.FieldLogger) *Engine {
	e := &Engine{
		Conf:      conf,
		Syntax:    template.DefaultSyntax,
		Validator: validate.New(),
		Out:       out,
		Log:       log,
	}
	e.Validator.Log = log
	e.NewSession = func() (dispatch.Session, error) {
		return dispatch.NewKubernetesSession(conf.Kubernetes, conf.Polling.WaitInterval, log)
	}
	return e
}

// Render compiles the task's command template and renders it against the
// task. It does not validate the task.
func (e *Engine) Render(task *descriptor.Task) (*template.Command, error) {
	placeholders := template.Placeholders{
		Cores:     task.Parameters[descriptor.ParamCores],
		MemByCore: task.Parameters[descriptor.ParamMemByCore],
		TempDir:   task.TempDir,
		ExecDir:   task.ExecDir(),
	}
	expr, err := template.Compile(task.Command, e.Syntax, task.Parameter, placeholders)
	if err != nil {
		return nil, err
	}
	return template.Render(expr, task)
}

// Run executes task. The returned record is never nil; err is set when the
// run was abandoned, in which case the record says why.
func (e *Engine) Run(ctx context.Context, task *descriptor.Task) (*RunRecord, error) {
	rec := newRunRecord(task, e.Log)
	rec.Start()
	e.begin(ctx, rec)
	defer e.end(ctx, rec)

	if err := e.run(ctx, task, rec); err != nil {
		rec.fail(err)
		return rec, err
	}
	rec.Finish()
	return rec, nil
}

func (e *Engine) run(ctx context.Context, task *descriptor.Task, rec *RunRecord) error {
	if err := e.Validator.Validate(task); err != nil {
		return err
	}
	rec.Event.Infof("task descriptor validated")

	cmd, err := e.Render(task)
	if err != nil {
		return err
	}
	rec.Command = cmd
	rec.Event.Infof("rendered command: %v", cmd)

	printer := report.New(e.Out)
	printer.Task(task)
	printer.Command(cmd.String())

	req, err := e.request(task, cmd)
	if err != nil {
		return err
	}
	rec.Stdout, rec.Stderr = req.Stdout, req.Stderr
	mode := strings.TrimSpace(task.Parameters[descriptor.ParamExecMode])
	if mode != descriptor.ModeNone {
		req.Observer = printer.Progress()
	}

	backend, err := e.backend(mode)
	if err != nil {
		return err
	}
	res, err := backend.Execute(ctx, req)
	rec.Result = res
	if err != nil {
		return err
	}
	rec.ExitStatus = res.ExitStatus
	rec.Event.Infof("%v execution finished with exit status %d", mode, res.ExitStatus)

	if mode != descriptor.ModeNone {
		printer.TimeStats(res)
	}
	if mode == descriptor.ModeRemote && res.Usage != nil {
		printer.ResourceStats(res.Usage)
	}
	streams := []report.Stream{
		{Label: "STDOUT", Path: req.Stdout, Redirected: cmd.Redirect.Stdout != ""},
		{Label: "STDERR", Path: req.Stderr, Redirected: cmd.Redirect.Stderr != ""},
	}
	for _, s := range streams {
		if err := printer.Stream(s); err != nil {
			rec.Event.Warnf("failed to echo %v: %v", s.Label, err)
		}
	}
	printer.ExitStatus(res.ExitStatus)

	if err := report.RepairOutputs(task); err != nil {
		return err
	}
	rec.Event.Infof("outputs checked")
	return nil
}

// request turns the rendered command into a dispatch request. Streams that
// are not redirected go to <instance>.stdout and <instance>.stderr in the
// execution directory.
func (e *Engine) request(task *descriptor.Task, cmd *template.Command) (*dispatch.Request, error) {
	execDir := task.ExecDir()
	base := filepath.Join(execDir, task.Metadata.InstanceName)
	req := &dispatch.Request{
		Name:       task.Metadata.InstanceName,
		Argv:       cmd.Argv,
		WorkingDir: execDir,
		Stdout:     base + ".stdout",
		Stderr:     base + ".stderr",
		Combined:   cmd.Redirect.Combined,
		Env:        e.passthrough(),
	}
	if cmd.Redirect.Stdout != "" {
		req.Stdout = cmd.Redirect.Stdout
	}
	if cmd.Redirect.Stderr != "" {
		req.Stderr = cmd.Redirect.Stderr
	}

	cores, err := validate.Cores(task)
	if err != nil {
		return nil, err
	}
	runtime, err := descriptor.ParseRuntime(strings.TrimSpace(task.Parameters[descriptor.ParamRuntime]))
	if err != nil {
		return nil, taskerr.Wrap(taskerr.InvalidParameter, descriptor.ParamRuntime, err)
	}
	req.Resources = dispatch.Resources{
		Cores:         cores,
		MemoryPerCore: strings.TrimSpace(task.Parameters[descriptor.ParamMemByCore]),
		Runtime:       runtime,
	}
	return req, nil
}

func (e *Engine) passthrough() map[string]string {
	env := map[string]string{}
	for _, name := range e.Conf.Environment.Passthrough {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	return env
}

func (e *Engine) backend(mode string) (dispatch.Backend, error) {
	switch mode {
	case descriptor.ModeLocal:
		return dispatch.NewLocalBackend(e.Log), nil
	case descriptor.ModeRemote:
		session, err := e.NewSession()
		if err != nil {
			return nil, taskerr.Wrap(taskerr.SubmissionFailed, mode, err)
		}
		p := e.Conf.Polling
		b := dispatch.NewBatchBackend(session, dispatch.PollPolicy{
			ActiveInterval:   p.ActiveInterval,
			InactiveInterval: p.InactiveInterval,
			InactiveTries:    p.InactiveTries,
		}, e.Log)
		if e.Sleep != nil {
			b.Sleep = e.Sleep
		}
		return b, nil
	case descriptor.ModeNone:
		return dispatch.NoopBackend{}, nil
	}
	return nil, taskerr.New(taskerr.InvalidParameter, descriptor.ParamExecMode, "illegal execution mode %q", mode)
}

// ExitCode is the process exit code for a finished run.
func ExitCode(rec *RunRecord, err error) int {
	if err != nil || rec == nil {
		return 1
	}
	return rec.ExitStatus
}
