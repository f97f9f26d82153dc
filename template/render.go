package template

import (
	"strings"

	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/taskerr"
)

// View is the read-only port and parameter store a template renders against.
// *descriptor.Task implements it.
type View interface {
	Input(name string) (*string, bool)
	Output(name string) (string, bool)
	Parameter(name string) (string, bool)
	OutputEnabled(port string) bool
	AddedInputs(base string) []string
}

// Redirection is where the tool's standard streams go. Empty paths mean
// the stream is not redirected; Combined means both go to Stdout.
type Redirection struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Combined bool   `json:"combined,omitempty"`
}

// Command is a rendered template.
type Command struct {
	Argv     []string    `json:"argv"`
	Redirect Redirection `json:"redirect"`
}

func (c *Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Render turns a parsed expression into an argument vector and a
// redirection plan. It does not touch the filesystem.
func Render(expr *Expression, view View) (*Command, error) {
	executable, ok := view.Parameter(descriptor.ParamExecutable)
	if !ok || strings.TrimSpace(executable) == "" {
		return nil, taskerr.New(taskerr.InvalidParameter, descriptor.ParamExecutable, "no executable given")
	}
	cmd := &Command{Argv: strings.Fields(executable)}
	for _, tok := range expr.Tokens {
		if tok.Redirect != NoRedirect {
			if err := redirect(&cmd.Redirect, tok, view); err != nil {
				return nil, err
			}
			continue
		}
		cmd.Argv = append(cmd.Argv, renderToken(tok, view)...)
	}
	return cmd, nil
}

func redirect(plan *Redirection, tok Token, view View) error {
	if !view.OutputEnabled(tok.Argument) {
		return nil
	}
	path, ok := view.Output(tok.Argument)
	if !ok {
		return taskerr.New(taskerr.RedirectionTargetInvalid, tok.Argument, "redirection target is not an output port")
	}
	ambiguous := func() error {
		return taskerr.New(taskerr.AmbiguousRedirection, tok.Text, "%s is already redirected", tok.Redirect)
	}
	switch tok.Redirect {
	case RedirectStdout:
		if plan.Stdout != "" {
			return ambiguous()
		}
		plan.Stdout = path
	case RedirectStderr:
		if plan.Stderr != "" {
			return ambiguous()
		}
		plan.Stderr = path
	case RedirectBoth:
		if plan.Stdout != "" || plan.Stderr != "" {
			return ambiguous()
		}
		plan.Stdout, plan.Stderr, plan.Combined = path, path, true
	}
	return nil
}

func renderToken(tok Token, view View) []string {
	switch tok.Kind {
	case ArgSwitchOff:
		return nil
	case ArgSwitchOn:
		return []string{tok.Option}
	case ArgRepeat:
		words := make([]string, 0, tok.Repeat)
		for i := 0; i < tok.Repeat; i++ {
			words = append(words, tok.Option)
		}
		return words
	case ArgList:
		var words []string
		for _, item := range tok.Items {
			words = append(words, tok.Option)
			words = append(words, strings.Fields(item)...)
		}
		return words
	}

	if path, ok := view.Input(tok.Argument); ok {
		if path == nil || descriptor.IsAddedPort(tok.Argument) {
			return nil
		}
		paths := append([]string{*path}, view.AddedInputs(tok.Argument)...)
		if tok.Positional {
			return paths
		}
		return append([]string{tok.Option}, paths...)
	}
	if path, ok := view.Output(tok.Argument); ok {
		if !view.OutputEnabled(tok.Argument) {
			return nil
		}
		if tok.Positional {
			return []string{path}
		}
		return []string{tok.Option, path}
	}
	if tok.Positional {
		return strings.Fields(tok.Argument)
	}
	return append([]string{tok.Option}, strings.Fields(tok.Argument)...)
}
