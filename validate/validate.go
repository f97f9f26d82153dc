package validate

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/taskerr"
	"golang.org/x/sys/unix"
)

var (
	coresFormat     = regexp.MustCompile(`^\d+$`)
	memByCoreFormat = regexp.MustCompile(`^\d+[KMG]?$`)
	runtimeFormat   = regexp.MustCompile(`^\d+:\d\d:\d\d$`)
)

// Validator checks a task descriptor against its filesystem and parameter
// contract before anything is executed.
type Validator struct {
	// LookPath resolves an executable name against the search path.
	LookPath func(file string) (string, error)
	Log      logrus.FieldLogger
}

func New() *Validator {
	return &Validator{LookPath: exec.LookPath, Log: logrus.StandardLogger()}
}

// Validate runs every check in order and stops at the first violation.
// Pre-created output directories get a trailing separator and the
// executable parameter is rewritten to an absolute path; a task that
// passed once passes again.
func (v *Validator) Validate(task *descriptor.Task) error {
	checks := []func(*descriptor.Task) error{
		ExecDir,
		(*descriptor.Task).CheckDuplicates,
		Inputs,
		Outputs,
		Parameters,
		v.Executable,
	}
	for _, check := range checks {
		if err := check(task); err != nil {
			return err
		}
	}
	v.Log.WithField("instance", task.Metadata.InstanceName).Debug("task descriptor validated")
	return nil
}

// ExecDir checks that the execution directory is writable.
func ExecDir(task *descriptor.Task) error {
	dir := task.ExecDir()
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return taskerr.New(taskerr.InvalidOutputLocation, dir, "execution directory is not writable: %v", err)
	}
	return nil
}

// Inputs checks every bound input port.
func Inputs(task *descriptor.Task) error {
	for _, port := range task.InputNames() {
		path := task.Inputs[port]
		if path == nil {
			continue
		}
		if err := checkInput(port, *path); err != nil {
			return err
		}
	}
	return nil
}

func checkInput(port, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return taskerr.New(taskerr.InvalidInput, port, "input %q not found", path)
	}
	switch descriptor.KindOf(port) {
	case descriptor.InFile:
		if !info.Mode().IsRegular() {
			return taskerr.New(taskerr.InvalidInput, port, "input %q is not a file", path)
		}
		if err = unix.Access(path, unix.R_OK); err != nil {
			return taskerr.New(taskerr.InvalidInput, port, "input file %q is not readable", path)
		}
	case descriptor.InDir:
		if !info.IsDir() {
			return taskerr.New(taskerr.InvalidInput, port, "input %q is not a directory", path)
		}
		if err = unix.Access(path, unix.X_OK); err != nil {
			return taskerr.New(taskerr.InvalidInput, port, "input directory %q is not accessible", path)
		}
		empty, err := isEmptyDir(path)
		if err != nil {
			return taskerr.Wrap(taskerr.InvalidInput, port, err)
		}
		if empty {
			return taskerr.New(taskerr.InvalidInput, port, "input directory %q is empty", path)
		}
	default:
		return taskerr.New(taskerr.InvalidInput, port, "input port has an illegal name")
	}
	return nil
}

func isEmptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// Outputs checks every output port and creates pre-created output directories.
func Outputs(task *descriptor.Task) error {
	execDir := task.ExecDir()
	for _, port := range task.OutputNames() {
		path := task.Outputs[port]
		kind := descriptor.KindOf(port)

		compared := path
		if kind == descriptor.OutDirMake {
			compared = strings.TrimSuffix(path, string(os.PathSeparator))
		}
		if compared != filepath.Join(execDir, port) {
			return taskerr.New(taskerr.InvalidOutputLocation, port, "output %q is not %v", path, filepath.Join(execDir, port))
		}

		switch kind {
		case descriptor.OutFile:
			if err := probeOutputFile(port, path); err != nil {
				return err
			}
		case descriptor.OutDir:
			if _, err := os.Lstat(path); err == nil {
				return taskerr.New(taskerr.OutputAlreadyExists, port, "output directory %q already exists", path)
			}
		case descriptor.OutDirMake:
			dir, err := makeOutputDir(port, compared)
			if err != nil {
				return err
			}
			task.Outputs[port] = dir
		default:
			return taskerr.New(taskerr.InvalidOutputLocation, port, "output port has an illegal name")
		}
	}
	return nil
}

func probeOutputFile(port, path string) error {
	if _, err := os.Lstat(path); err == nil {
		return taskerr.New(taskerr.OutputAlreadyExists, port, "output file %q already exists", path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return taskerr.Wrap(taskerr.OutputNotWritable, port, err)
	}
	if err = f.Close(); err != nil {
		return taskerr.Wrap(taskerr.OutputNotWritable, port, err)
	}
	if err = os.Remove(path); err != nil {
		return taskerr.Wrap(taskerr.OutputNotWritable, port, err)
	}
	return nil
}

func makeOutputDir(port, path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.Mkdir(path, 0755); err != nil {
			return "", taskerr.Wrap(taskerr.OutputDirectoryUnavailable, port, err)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", taskerr.Wrap(taskerr.OutputDirectoryUnavailable, port, err)
	}
	if !info.IsDir() {
		return "", taskerr.New(taskerr.OutputDirectoryUnavailable, port, "output %q is not a directory", path)
	}
	if err = unix.Access(path, unix.X_OK); err != nil {
		return "", taskerr.New(taskerr.OutputDirectoryUnavailable, port, "output directory %q is not accessible", path)
	}
	return path + string(os.PathSeparator), nil
}

// Parameters checks the format of the reserved scalar parameters.
func Parameters(task *descriptor.Task) error {
	get := func(name string) (string, error) {
		v, ok := task.Parameter(name)
		if !ok {
			return "", taskerr.New(taskerr.InvalidParameter, name, "required parameter is missing")
		}
		return strings.TrimSpace(v), nil
	}

	if _, err := get(descriptor.ParamExecutable); err != nil {
		return err
	}
	mode, err := get(descriptor.ParamExecMode)
	if err != nil {
		return err
	}
	switch mode {
	case descriptor.ModeLocal, descriptor.ModeRemote, descriptor.ModeNone:
	default:
		return taskerr.New(taskerr.InvalidParameter, descriptor.ParamExecMode, "illegal execution mode %q", mode)
	}

	formats := []struct {
		name    string
		pattern *regexp.Regexp
		expect  string
	}{
		{descriptor.ParamCores, coresFormat, "a non-negative integer"},
		{descriptor.ParamMemByCore, memByCoreFormat, `an integer, optionally followed by "K", "M" or "G"`},
		{descriptor.ParamRuntime, runtimeFormat, "H:MM:SS"},
	}
	for _, f := range formats {
		v, err := get(f.name)
		if err != nil {
			return err
		}
		if !f.pattern.MatchString(v) {
			return taskerr.New(taskerr.InvalidParameter, f.name, "value %q is not %s", v, f.expect)
		}
	}
	return nil
}

// Executable resolves the first word of the executable parameter against
// the search path and stores the absolute path back into the task.
func (v *Validator) Executable(task *descriptor.Task) error {
	words := strings.Fields(task.Parameters[descriptor.ParamExecutable])
	if len(words) == 0 {
		return taskerr.New(taskerr.InvalidParameter, descriptor.ParamExecutable, "no executable given")
	}
	location, err := v.LookPath(words[0])
	if err != nil {
		return taskerr.Wrap(taskerr.ExecutableNotFound, words[0], err)
	}
	if location, err = filepath.Abs(location); err != nil {
		return taskerr.Wrap(taskerr.ExecutableNotFound, words[0], err)
	}
	words[0] = location
	task.Parameters[descriptor.ParamExecutable] = strings.Join(words, " ")
	return nil
}

// Cores returns the validated core count.
func Cores(task *descriptor.Task) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(task.Parameters[descriptor.ParamCores]))
	if err != nil {
		return 0, taskerr.Wrap(taskerr.InvalidParameter, descriptor.ParamCores, fmt.Errorf("not an integer: %v", err))
	}
	return n, nil
}
