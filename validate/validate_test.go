package validate_test

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/taskerr"
	"github.com/zavolanlab/krini/validate"
)

func strPtr(s string) *string { return &s }

func newValidator() *validate.Validator {
	return &validate.Validator{
		LookPath: func(file string) (string, error) {
			if file == "tool" || file == "/opt/bin/tool" {
				return "/opt/bin/tool", nil
			}
			return "", errors.New("executable file not found in $PATH")
		},
		Log: logrus.New(),
	}
}

// newTask lays out an execution directory with one input file and one
// non-empty input directory.
func newTask(t *testing.T) *descriptor.Task {
	execDir := t.TempDir()
	inFile := filepath.Join(execDir, "reads.fq")
	require.NoError(t, ioutil.WriteFile(inFile, []byte("@r1\n"), 0644))
	inDir := filepath.Join(execDir, "index")
	require.NoError(t, os.Mkdir(inDir, 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(inDir, "SA"), []byte("x"), 0644))

	return &descriptor.Task{
		Metadata: descriptor.Metadata{InstanceName: "align"},
		TempDir:  filepath.Join(execDir, "_tmp"),
		Inputs: map[string]*string{
			"INFILE_reads":  strPtr(inFile),
			"INDIR_index":   strPtr(inDir),
			"INFILE_unused": nil,
		},
		Outputs: map[string]string{
			"OUTFILE_bam":       filepath.Join(execDir, "OUTFILE_bam"),
			"OUTDIR_stats":      filepath.Join(execDir, "OUTDIR_stats"),
			"OUTDIRMAKE_tables": filepath.Join(execDir, "OUTDIRMAKE_tables"),
		},
		Parameters: map[string]string{
			"_executable": "tool --quiet",
			"_execMode":   "local",
			"_cores":      "2",
			"_membycore":  "512M",
			"_runtime":    "12:00:00",
		},
	}
}

func TestValidate(t *testing.T) {
	task := newTask(t)
	execDir := task.ExecDir()
	v := newValidator()

	require.NoError(t, v.Validate(task))

	tables := filepath.Join(execDir, "OUTDIRMAKE_tables")
	assert.Equal(t, tables+"/", task.Outputs["OUTDIRMAKE_tables"])
	assert.DirExists(t, tables)
	assert.NoFileExists(t, filepath.Join(execDir, "OUTFILE_bam"))
	assert.Equal(t, "/opt/bin/tool --quiet", task.Parameters["_executable"])

	require.NoError(t, v.Validate(task))
	assert.Equal(t, tables+"/", task.Outputs["OUTDIRMAKE_tables"])
	assert.Equal(t, "/opt/bin/tool --quiet", task.Parameters["_executable"])
}

func TestValidateExecDir(t *testing.T) {
	task := newTask(t)
	task.TempDir = filepath.Join(task.ExecDir(), "missing", "_tmp")
	err := newValidator().Validate(task)
	assert.True(t, errors.Is(err, taskerr.InvalidOutputLocation))
}

func TestValidateDuplicates(t *testing.T) {
	task := newTask(t)
	task.Parameters["INFILE_reads"] = "x"
	err := newValidator().Validate(task)
	assert.True(t, errors.Is(err, taskerr.DuplicateParameterName))
}

func TestInputs(t *testing.T) {
	cases := map[string]func(task *descriptor.Task){
		"missing file": func(task *descriptor.Task) {
			task.Inputs["INFILE_reads"] = strPtr(filepath.Join(task.ExecDir(), "nope"))
		},
		"file is a directory": func(task *descriptor.Task) {
			task.Inputs["INFILE_reads"] = task.Inputs["INDIR_index"]
		},
		"directory is a file": func(task *descriptor.Task) {
			task.Inputs["INDIR_index"] = task.Inputs["INFILE_reads"]
		},
		"empty directory": func(task *descriptor.Task) {
			empty := filepath.Join(task.ExecDir(), "empty")
			require.NoError(t, os.Mkdir(empty, 0755))
			task.Inputs["INDIR_index"] = strPtr(empty)
		},
		"illegal port": func(task *descriptor.Task) {
			task.Inputs["FILE_reads"] = task.Inputs["INFILE_reads"]
		},
	}
	for name, breakTask := range cases {
		t.Run(name, func(t *testing.T) {
			task := newTask(t)
			breakTask(task)
			err := validate.Inputs(task)
			assert.True(t, errors.Is(err, taskerr.InvalidInput), "got %v", err)
		})
	}
}

func TestOutputs(t *testing.T) {
	cases := map[string]struct {
		breakTask func(task *descriptor.Task)
		kind      taskerr.Kind
	}{
		"outside execution directory": {func(task *descriptor.Task) {
			task.Outputs["OUTFILE_bam"] = filepath.Join(task.ExecDir(), "sub", "OUTFILE_bam")
		}, taskerr.InvalidOutputLocation},
		"renamed": {func(task *descriptor.Task) {
			task.Outputs["OUTFILE_bam"] = filepath.Join(task.ExecDir(), "out.bam")
		}, taskerr.InvalidOutputLocation},
		"file exists": {func(task *descriptor.Task) {
			require.NoError(t, ioutil.WriteFile(task.Outputs["OUTFILE_bam"], nil, 0644))
		}, taskerr.OutputAlreadyExists},
		"directory exists": {func(task *descriptor.Task) {
			require.NoError(t, os.Mkdir(task.Outputs["OUTDIR_stats"], 0755))
		}, taskerr.OutputAlreadyExists},
		"pre-created directory is a file": {func(task *descriptor.Task) {
			require.NoError(t, ioutil.WriteFile(task.Outputs["OUTDIRMAKE_tables"], nil, 0644))
		}, taskerr.OutputDirectoryUnavailable},
		"illegal port": {func(task *descriptor.Task) {
			task.Outputs["OUT_x"] = filepath.Join(task.ExecDir(), "OUT_x")
		}, taskerr.InvalidOutputLocation},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			task := newTask(t)
			c.breakTask(task)
			err := validate.Outputs(task)
			assert.True(t, errors.Is(err, c.kind), "got %v", err)
		})
	}
}

func TestParameters(t *testing.T) {
	cases := map[string][2]string{
		"mode":               {"_execMode", "cluster"},
		"negative cores":     {"_cores", "-1"},
		"fractional cores":   {"_cores", "1.5"},
		"memory unit":        {"_membycore", "2GB"},
		"memory":             {"_membycore", "lots"},
		"runtime minutes":    {"_runtime", "1:5:00"},
		"runtime no hours":   {"_runtime", "30:00"},
		"missing executable": {"_executable", ""},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			task := newTask(t)
			if c[1] == "" {
				delete(task.Parameters, c[0])
			} else {
				task.Parameters[c[0]] = c[1]
			}
			err := validate.Parameters(task)
			require.True(t, errors.Is(err, taskerr.InvalidParameter), "got %v", err)
			assert.Equal(t, c[0], err.(*taskerr.Error).Subject)
		})
	}

	task := newTask(t)
	task.Parameters["_membycore"] = "4"
	task.Parameters["_cores"] = "0"
	task.Parameters["_execMode"] = "none"
	assert.NoError(t, validate.Parameters(task))
}

func TestExecutable(t *testing.T) {
	task := newTask(t)
	task.Parameters["_executable"] = "no-such-tool --help"
	err := newValidator().Executable(task)
	assert.True(t, errors.Is(err, taskerr.ExecutableNotFound))
	assert.Equal(t, "no-such-tool --help", task.Parameters["_executable"])
}

func TestExecutableOnPath(t *testing.T) {
	task := newTask(t)
	task.Parameters["_executable"] = "sh -c"
	require.NoError(t, validate.New().Executable(task))
	assert.True(t, filepath.IsAbs(task.Parameters["_executable"]))
	assert.Contains(t, task.Parameters["_executable"], "sh -c")
}
