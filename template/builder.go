package template

import (
	"fmt"
	"io/ioutil"
	"regexp"
	"sort"
	"strings"

	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/taskerr"
	"gopkg.in/yaml.v2"
)

var leadingDigit = regexp.MustCompile(`^\d`)

var optionNameReplacer = strings.NewReplacer(
	"-", "_",
	"@", "at",
	"#", "sharp",
	"?", "quMark",
	"!", "exclMark",
)

const droppedOptionChars = "\"$%^&*()+={}[]\\/<>,.`~|'"

// Entry is one option of a tool as listed in a component definition.
type Entry struct {
	Option      string  `yaml:"option"`
	Class       string  `yaml:"class"`
	Positional  int     `yaml:"positional"`
	Redirect    string  `yaml:"redirect"`
	Optional    bool    `yaml:"optional"`
	Default     *string `yaml:"default"`
	Description string  `yaml:"description"`
}

// Definition describes a command line tool from which a component
// template is generated.
type Definition struct {
	Name       string  `yaml:"name"`
	Executable string  `yaml:"executable"`
	Inputs     []Entry `yaml:"inputs"`
	Outputs    []Entry `yaml:"outputs"`
	Parameters []Entry `yaml:"parameters"`
}

// Component is the result of building a Definition.
type Component struct {
	Name       string            `yaml:"name" json:"name"`
	Command    string            `yaml:"command" json:"command"`
	Inputs     []string          `yaml:"inputs" json:"inputs"`
	Outputs    []string          `yaml:"outputs" json:"outputs"`
	Parameters map[string]string `yaml:"parameters" json:"parameters"`
	Required   []string          `yaml:"required,omitempty" json:"required,omitempty"`
	Switches   []string          `yaml:"switches,omitempty" json:"switches,omitempty"`
}

type namedEntry struct {
	Entry
	name  string
	field bool
}

// LoadDefinition reads a component definition from a YAML or JSON file.
func LoadDefinition(path string) (*Definition, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read component definition %v: %v", path, err)
	}
	def := &Definition{}
	if err = yaml.Unmarshal(b, def); err != nil {
		return nil, fmt.Errorf("failed to parse component definition %v: %v", path, err)
	}
	return def, nil
}

// OptionName derives a port or parameter name from a tool option.
func OptionName(option string) string {
	name := strings.TrimLeft(option, "-")
	name = optionNameReplacer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(droppedOptionChars, r) {
			return -1
		}
		return r
	}, name)
	if leadingDigit.MatchString(name) {
		name = "_" + name
	}
	if name == "parameter" {
		name = "parameter_"
	}
	return name
}

func inputPrefix(class string) string {
	if class == "directory" {
		return descriptor.InDir.Prefix()
	}
	return descriptor.InFile.Prefix()
}

func outputPrefix(class string) string {
	switch class {
	case "directory":
		return descriptor.OutDir.Prefix()
	case "directoryMake":
		return descriptor.OutDirMake.Prefix()
	}
	return descriptor.OutFile.Prefix()
}

// Build generates the command template of a component.
//
// Non-positional parameters, inputs and outputs come first, each group in
// name order, then positional entries by slot, then redirected outputs.
// Entries with a default are written as {name} fields.
func (def *Definition) Build(syn Syntax) (*Component, error) {
	if strings.TrimSpace(def.Executable) == "" {
		return nil, taskerr.New(taskerr.InvalidParameter, descriptor.ParamExecutable, "definition has no executable")
	}
	comp := &Component{
		Name:       def.Name,
		Parameters: map[string]string{descriptor.ParamExecutable: def.Executable},
	}

	names := map[string]bool{
		descriptor.ParamExecutable: true,
		descriptor.ParamExecMode:   true,
		descriptor.ParamCores:      true,
		descriptor.ParamMemByCore:  true,
		descriptor.ParamRuntime:    true,
	}
	claim := func(name string) error {
		if names[name] {
			return taskerr.New(taskerr.DuplicateParameterName, name, "two options map to the same name")
		}
		names[name] = true
		return nil
	}

	var params, inputs, outputs, redirected []namedEntry
	positional := map[int]namedEntry{}
	add := func(list *[]namedEntry, e namedEntry) error {
		if err := claim(e.name); err != nil {
			return err
		}
		if e.Redirect != "" {
			redirected = append(redirected, e)
			return nil
		}
		if e.Positional > 0 {
			if prev, ok := positional[e.Positional]; ok {
				return taskerr.New(taskerr.DuplicatePositionalSlot, e.name, "position %d is already taken by %s", e.Positional, prev.name)
			}
			positional[e.Positional] = e
			return nil
		}
		*list = append(*list, e)
		return nil
	}

	for _, e := range def.Parameters {
		name := OptionName(e.Option)
		ne := namedEntry{Entry: e, name: name, field: true}
		if e.Redirect != "" {
			return nil, taskerr.New(taskerr.RedirectionTargetInvalid, name, "only outputs can be redirected")
		}
		if err := add(&params, ne); err != nil {
			return nil, err
		}
		if e.Default != nil {
			comp.Parameters[name] = *e.Default
		} else {
			comp.Required = append(comp.Required, name)
		}
	}
	for _, e := range def.Inputs {
		name := inputPrefix(e.Class) + OptionName(e.Option)
		if e.Redirect != "" {
			return nil, taskerr.New(taskerr.RedirectionTargetInvalid, name, "only outputs can be redirected")
		}
		if err := add(&inputs, namedEntry{Entry: e, name: name}); err != nil {
			return nil, err
		}
		comp.Inputs = append(comp.Inputs, name)
	}
	for _, e := range def.Outputs {
		name := outputPrefix(e.Class) + OptionName(e.Option)
		if err := add(&outputs, namedEntry{Entry: e, name: name}); err != nil {
			return nil, err
		}
		comp.Outputs = append(comp.Outputs, name)
		if e.Optional {
			switchName := "_" + name
			if err := claim(switchName); err != nil {
				return nil, err
			}
			comp.Switches = append(comp.Switches, switchName)
			comp.Parameters[switchName] = "false"
		}
	}

	var b strings.Builder
	b.WriteString("{" + descriptor.ParamExecutable + "}")
	write := func(option, spacer string, e namedEntry) {
		arg := e.name
		if e.field {
			arg = "{" + e.name + "}"
		}
		b.WriteString(syn.Separator() + option + spacer + arg)
	}
	for _, group := range [][]namedEntry{params, inputs, outputs} {
		sort.Slice(group, func(i, j int) bool { return group[i].name < group[j].name })
		for _, e := range group {
			write(e.Option, syn.Spacer(), e)
		}
	}
	slots := make([]int, 0, len(positional))
	for slot := range positional {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		e := positional[slot]
		option := e.Option
		if option == "" {
			option = e.name
		}
		write(option, syn.PositionalSpacer(), e)
	}
	sort.Slice(redirected, func(i, j int) bool { return redirected[i].name < redirected[j].name })
	for _, e := range redirected {
		symbol, err := redirectSymbol(syn, e.Redirect)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.RedirectionTargetInvalid, e.name, err)
		}
		write(symbol, syn.Spacer(), e)
	}

	comp.Command = b.String()
	sort.Strings(comp.Inputs)
	sort.Strings(comp.Outputs)
	sort.Strings(comp.Required)
	sort.Strings(comp.Switches)
	return comp, nil
}

func redirectSymbol(syn Syntax, redirect string) (string, error) {
	kinds := map[string]RedirectKind{
		"stdout": RedirectStdout,
		"stderr": RedirectStderr,
		"both":   RedirectBoth,
	}
	if kind, ok := kinds[redirect]; ok {
		return syn.RedirectorSymbol(kind), nil
	}
	if syn.Redirector(redirect) != NoRedirect {
		return redirect, nil
	}
	return "", fmt.Errorf("unknown redirection %q", redirect)
}
