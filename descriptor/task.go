package descriptor

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/zavolanlab/krini/taskerr"
	"gopkg.in/yaml.v2"
)

// reserved parameter names
const (
	ParamExecutable = "_executable"
	ParamExecMode   = "_execMode"
	ParamCores      = "_cores"
	ParamMemByCore  = "_membycore"
	ParamRuntime    = "_runtime"
)

// execution modes accepted for _execMode
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
	ModeNone   = "none"
)

var addedPortPattern = regexp.MustCompile(`^(.+)_ADD_(\d+)$`)

// Metadata identifies the component instance a task belongs to.
type Metadata struct {
	ComponentName string `yaml:"componentName" json:"componentName"`
	InstanceName  string `yaml:"instanceName" json:"instanceName"`
	ComponentPath string `yaml:"componentPath" json:"componentPath"`
}

// Task is the descriptor handed over by the workflow engine for one
// invocation of a component.
//
// A nil input path means the port is declared but unbound.
type Task struct {
	Metadata   Metadata           `yaml:"metadata" json:"metadata"`
	TempDir    string             `yaml:"tempDir" json:"tempDir"`
	Command    string             `yaml:"command" json:"command"`
	Inputs     map[string]*string `yaml:"inputs" json:"inputs"`
	Outputs    map[string]string  `yaml:"outputs" json:"outputs"`
	Parameters map[string]string  `yaml:"parameters" json:"parameters"`
}

type taskFile struct {
	Metadata   Metadata               `yaml:"metadata"`
	TempDir    string                 `yaml:"tempDir"`
	Command    string                 `yaml:"command"`
	Inputs     map[string]*string     `yaml:"inputs"`
	Outputs    map[string]string      `yaml:"outputs"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// Load reads a task descriptor from a YAML or JSON file.
func Load(path string) (*Task, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task descriptor %v: %v", path, err)
	}
	return Parse(b)
}

// Parse decodes a YAML or JSON task descriptor.
// Scalar parameter values of any YAML type are kept in their string form.
func Parse(b []byte) (*Task, error) {
	f := &taskFile{}
	if err := yaml.Unmarshal(b, f); err != nil {
		return nil, fmt.Errorf("failed to parse task descriptor: %v", err)
	}
	task := &Task{
		Metadata:   f.Metadata,
		TempDir:    f.TempDir,
		Command:    f.Command,
		Inputs:     f.Inputs,
		Outputs:    f.Outputs,
		Parameters: make(map[string]string, len(f.Parameters)),
	}
	if task.Inputs == nil {
		task.Inputs = make(map[string]*string)
	}
	if task.Outputs == nil {
		task.Outputs = make(map[string]string)
	}
	for name, raw := range f.Parameters {
		v, err := scalarString(raw)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.InvalidParameter, name, err)
		}
		task.Parameters[name] = v
	}
	return task, nil
}

func scalarString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("value of type %T is not a scalar", raw)
}

// ExecDir is the execution directory of the task, the parent of its temp dir.
func (t *Task) ExecDir() string {
	return filepath.Dir(filepath.Clean(t.TempDir))
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() (*Task, error) {
	c := &Task{}
	if err := copier.CopyWithOption(c, t, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to copy task descriptor: %v", err)
	}
	return c, nil
}

// Input returns the path bound to an input port. ok is false for undeclared ports.
func (t *Task) Input(name string) (path *string, ok bool) {
	path, ok = t.Inputs[name]
	return path, ok
}

// Output returns the destination of an output port.
func (t *Task) Output(name string) (path string, ok bool) {
	path, ok = t.Outputs[name]
	return path, ok
}

// Parameter returns a parameter value.
func (t *Task) Parameter(name string) (value string, ok bool) {
	value, ok = t.Parameters[name]
	return value, ok
}

// OutputEnabled reports whether an output port is switched on. An output
// is on unless a "_<port>" parameter with a false value is present.
func (t *Task) OutputEnabled(port string) bool {
	v, ok := t.Parameters["_"+port]
	if !ok {
		return true
	}
	on, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return true
	}
	return on
}

// AddedInputs returns the bound values of the numbered-suffix members
// "<base>_ADD_<n>" of an input family, ordered by n.
func (t *Task) AddedInputs(base string) []string {
	type member struct {
		n    int
		path string
	}
	var members []member
	for name, path := range t.Inputs {
		m := addedPortPattern.FindStringSubmatch(name)
		if m == nil || m[1] != base || path == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		members = append(members, member{n: n, path: *path})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].n < members[j].n })
	paths := make([]string, 0, len(members))
	for _, m := range members {
		paths = append(paths, m.path)
	}
	return paths
}

// IsAddedPort reports whether name is a numbered-suffix family member.
func IsAddedPort(name string) bool {
	return addedPortPattern.MatchString(name)
}

// CheckDuplicates fails when a name is used by more than one of the
// input, output and parameter maps.
func (t *Task) CheckDuplicates() error {
	seen := make(map[string]string)
	check := func(name, where string) error {
		if prev, ok := seen[name]; ok {
			return taskerr.New(taskerr.DuplicateParameterName, name, "name is declared as both %s and %s", prev, where)
		}
		seen[name] = where
		return nil
	}
	for _, name := range sortedKeys(t.Inputs) {
		if err := check(name, "input"); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(t.Outputs) {
		if err := check(name, "output"); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(t.Parameters) {
		if err := check(name, "parameter"); err != nil {
			return err
		}
	}
	return nil
}

// InputNames returns input port names in sorted order.
func (t *Task) InputNames() []string { return sortedKeys(t.Inputs) }

// OutputNames returns output port names in sorted order.
func (t *Task) OutputNames() []string { return sortedKeys(t.Outputs) }

// ParameterNames returns parameter names in sorted order.
func (t *Task) ParameterNames() []string { return sortedKeys(t.Parameters) }

func sortedKeys(m interface{}) []string {
	var keys []string
	switch v := m.(type) {
	case map[string]*string:
		for k := range v {
			keys = append(keys, k)
		}
	case map[string]string:
		for k := range v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ParseRuntime converts a "H:MM:SS" runtime into a duration.
func ParseRuntime(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return 0, fmt.Errorf("runtime %q is not of the form H:MM:SS", s)
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("runtime %q is not of the form H:MM:SS", s)
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}
