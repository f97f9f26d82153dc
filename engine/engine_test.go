package engine

import (
	"bytes"
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zavolanlab/krini/config"
	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/dispatch"
	eventlog "github.com/zavolanlab/krini/logging"
	"github.com/zavolanlab/krini/taskerr"
)

func strPtr(s string) *string { return &s }

// scriptTask runs a shell script that prints to both streams and exits 3.
// Stdout is redirected to OUTFILE_out.
func scriptTask(t *testing.T, mode string) *descriptor.Task {
	execDir := t.TempDir()
	script := filepath.Join(t.TempDir(), "job.sh")
	require.NoError(t, ioutil.WriteFile(script, []byte("echo hello\necho oops >&2\nexit 3\n"), 0644))

	return &descriptor.Task{
		Metadata: descriptor.Metadata{ComponentName: "Echo", InstanceName: "echo1", ComponentPath: "/components/Echo"},
		TempDir:  filepath.Join(execDir, "_tmp"),
		Command:  "{_executable}$$$script###INFILE_script$$$>^^^OUTFILE_out",
		Inputs:   map[string]*string{"INFILE_script": strPtr(script)},
		Outputs: map[string]string{
			"OUTFILE_out":  filepath.Join(execDir, "OUTFILE_out"),
			"OUTDIR_extra": filepath.Join(execDir, "OUTDIR_extra"),
		},
		Parameters: map[string]string{
			"_executable": "sh",
			"_execMode":   mode,
			"_cores":      "1",
			"_membycore":  "100M",
			"_runtime":    "0:01:00",
		},
	}
}

func newTestEngine(out *bytes.Buffer) *Engine {
	logger, _ := test.NewNullLogger()
	conf := config.Default()
	conf.Polling.InactiveTries = 2
	e := New(conf, out, logger)
	e.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func TestRunLocal(t *testing.T) {
	var out bytes.Buffer
	task := scriptTask(t, "local")
	execDir := task.ExecDir()

	rec, err := newTestEngine(&out).Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ExitStatus)
	assert.Equal(t, 3, ExitCode(rec, err))
	assert.Equal(t, eventlog.Completed, rec.Status)
	assert.Equal(t, "sh", rec.Declared.Parameters["_executable"])
	assert.True(t, filepath.IsAbs(task.Parameters["_executable"]))

	stdout, err := ioutil.ReadFile(filepath.Join(execDir, "OUTFILE_out"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(stdout))
	assert.Equal(t, filepath.Join(execDir, "echo1.stderr"), rec.Stderr)
	assert.DirExists(t, filepath.Join(execDir, "OUTDIR_extra"))

	report := out.String()
	assert.Contains(t, report, "Component name                 : Echo\n")
	assert.Contains(t, report, "== Command ==\n"+task.Parameters["_executable"]+" "+*task.Inputs["INFILE_script"]+"\n")
	assert.Contains(t, report, "== Time statistics ==")
	assert.NotContains(t, report, "== Resource statistics ==")
	assert.Contains(t, report, "< [STDOUT] was redirected to output file '"+filepath.Join(execDir, "OUTFILE_out")+"'. >")
	assert.Contains(t, report, "< [STDERR] as saved in file \""+rec.Stderr+"\": >\noops\n")
	assert.Contains(t, report, "== Exit status ==\n3\n")
}

func TestRunNone(t *testing.T) {
	var out bytes.Buffer
	task := scriptTask(t, "none")

	rec, err := newTestEngine(&out).Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, dispatch.NotExecuted, ExitCode(rec, err))

	report := out.String()
	assert.NotContains(t, report, "== Progress ==")
	assert.NotContains(t, report, "== Time statistics ==")
	assert.Contains(t, report, "< [STDERR] file \""+rec.Stderr+"\" was not produced. >")
	assert.FileExists(t, filepath.Join(task.ExecDir(), "OUTFILE_out"))
}

func TestRunInvalidTask(t *testing.T) {
	var out bytes.Buffer
	task := scriptTask(t, "local")
	task.Parameters["_cores"] = "two"

	rec, err := newTestEngine(&out).Run(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, taskerr.InvalidParameter, rec.ErrorKind)
	assert.Equal(t, eventlog.Failed, rec.Status)
	assert.Equal(t, 1, ExitCode(rec, err))
	assert.Empty(t, out.String())
}

func TestRender(t *testing.T) {
	task := scriptTask(t, "local")
	cmd, err := newTestEngine(&bytes.Buffer{}).Render(task)
	require.NoError(t, err)
	assert.Equal(t, []string{"sh", *task.Inputs["INFILE_script"]}, cmd.Argv)
	assert.Equal(t, task.Outputs["OUTFILE_out"], cmd.Redirect.Stdout)
}

// remoteSession finishes every job with exit status 0 after the states
// have been replayed, writing the job's output the way a scheduler would.
type remoteSession struct {
	states    []dispatch.JobState
	polls     int
	submitted *dispatch.JobTemplate
}

func (s *remoteSession) NewJobTemplate() (*dispatch.JobTemplate, error) {
	return &dispatch.JobTemplate{}, nil
}

func (s *remoteSession) DeleteJobTemplate(jt *dispatch.JobTemplate) error { return nil }

func (s *remoteSession) Submit(ctx context.Context, jt *dispatch.JobTemplate) (string, error) {
	s.submitted = jt
	return "echo1-0f3b2c1d", nil
}

func (s *remoteSession) Status(ctx context.Context, jobID string) (dispatch.JobState, error) {
	state := s.states[s.polls]
	if s.polls < len(s.states)-1 {
		s.polls++
	}
	return state, nil
}

func (s *remoteSession) Wait(ctx context.Context, jobID string, timeout time.Duration) (*dispatch.JobInfo, error) {
	if err := ioutil.WriteFile(s.submitted.OutputPath, []byte("hello\n"), 0644); err != nil {
		return nil, err
	}
	return &dispatch.JobInfo{
		JobID:      jobID,
		HasExited:  true,
		ExitStatus: 0,
		Usage:      &dispatch.ResourceUsage{WallClock: 4, MaxVMem: 1024},
	}, nil
}

func (s *remoteSession) Terminate(ctx context.Context, jobID string) error { return nil }

func (s *remoteSession) Close() error { return nil }

func TestRunRemote(t *testing.T) {
	var out bytes.Buffer
	task := scriptTask(t, "remote")
	session := &remoteSession{states: []dispatch.JobState{dispatch.StateQueuedActive, dispatch.StateRunning}}
	e := newTestEngine(&out)
	e.NewSession = func() (dispatch.Session, error) { return session, nil }
	t.Setenv("PATH", "/usr/local/bin:/usr/bin:/bin")

	rec, err := e.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ExitStatus)
	assert.Equal(t, "echo1-0f3b2c1d", rec.Result.JobID)

	jt := session.submitted
	assert.Equal(t, task.Parameters["_executable"], jt.RemoteCommand)
	assert.Equal(t, task.Outputs["OUTFILE_out"], jt.OutputPath)
	assert.Equal(t, time.Minute, jt.Runtime)
	assert.Equal(t, "100M", jt.MemoryPerCore)
	assert.Equal(t, "/usr/local/bin:/usr/bin:/bin", jt.Env["PATH"])

	report := out.String()
	assert.Contains(t, report, "== Job ID ==\necho1-0f3b2c1d\n")
	assert.Contains(t, report, "== Resource statistics ==\nReal time                      : 4.000 s\n")
}

func TestRunRemoteStuck(t *testing.T) {
	task := scriptTask(t, "remote")
	e := newTestEngine(&bytes.Buffer{})
	e.NewSession = func() (dispatch.Session, error) {
		return &remoteSession{states: []dispatch.JobState{dispatch.StateSystemOnHold}}, nil
	}

	rec, err := e.Run(context.Background(), task)
	assert.True(t, errors.Is(err, taskerr.JobStuck), "got %v", err)
	assert.Equal(t, taskerr.JobStuck, rec.ErrorKind)
	assert.Equal(t, "echo1-0f3b2c1d", rec.Result.JobID)
	assert.Equal(t, 1, ExitCode(rec, err))
}

func TestRunRemoteNoSession(t *testing.T) {
	task := scriptTask(t, "remote")
	e := newTestEngine(&bytes.Buffer{})
	e.NewSession = func() (dispatch.Session, error) { return nil, errors.New("no cluster") }

	rec, err := e.Run(context.Background(), task)
	assert.True(t, errors.Is(err, taskerr.SubmissionFailed), "got %v", err)
	assert.Equal(t, dispatch.NotExecuted, rec.ExitStatus)
}

type fakeRecorder struct {
	begun, ended []string
	err          error
}

func (f *fakeRecorder) Begin(ctx context.Context, rec *RunRecord) error {
	f.begun = append(f.begun, rec.Status)
	return f.err
}

func (f *fakeRecorder) End(ctx context.Context, rec *RunRecord) error {
	f.ended = append(f.ended, rec.Status)
	return f.err
}

func TestRecordersSeeLifecycle(t *testing.T) {
	ok := &fakeRecorder{}
	broken := &fakeRecorder{err: errors.New("database is down")}
	e := newTestEngine(&bytes.Buffer{})
	e.Recorders = []Recorder{broken, ok}

	rec, err := e.Run(context.Background(), scriptTask(t, "none"))
	require.NoError(t, err)
	assert.Equal(t, []string{eventlog.Running}, ok.begun)
	assert.Equal(t, []string{eventlog.Completed}, ok.ended)
	assert.Len(t, broken.ended, 1)
	assert.Contains(t, rec.Event.Records()[len(rec.Event.Records())-1], "database is down")
}

func TestRunRecordFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := newRunRecord(scriptTask(t, "local"), logger)
	rec.Event.Infof("hello")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, rec.RunID, entry.Data["run_id"])
	assert.Equal(t, "echo1", entry.Data["instance"])
}
