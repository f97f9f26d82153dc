package template

import (
	"regexp"
	"strings"

	"github.com/zavolanlab/krini/taskerr"
)

// {{ and }} are escaped braces, {name} is a parameter field
var fieldPattern = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Z_]+)\}\}`)

// Placeholders are the values of the global {{NAME}} placeholders.
type Placeholders struct {
	Cores     string
	MemByCore string
	TempDir   string
	ExecDir   string
}

func (p Placeholders) lookup(name string) (string, bool) {
	switch name {
	case "CORES":
		return p.Cores, true
	case "MEMBYCORE":
		return p.MemByCore, true
	case "TEMPDIR":
		return p.TempDir, true
	case "EXECDIR":
		return p.ExecDir, true
	}
	return "", false
}

// Bind replaces every {name} field of a raw template with the value of
// parameter name and unescapes {{ and }}. Metavalues and placeholders are
// therefore written {{{{TRUE}}}} in a raw template, or come in through a
// parameter value. Fields in the executable token that name no parameter
// are left alone; anywhere else they are a MalformedTemplate error.
func Bind(raw string, syn Syntax, params func(string) (string, bool)) (string, error) {
	execEnd := strings.Index(raw, syn.Separator())
	if execEnd < 0 {
		execEnd = len(raw)
	}

	var b strings.Builder
	last := 0
	for _, m := range fieldPattern.FindAllStringSubmatchIndex(raw, -1) {
		b.WriteString(raw[last:m[0]])
		last = m[1]
		if m[2] < 0 {
			b.WriteString(raw[m[0] : m[0]+1])
			continue
		}
		name := raw[m[2]:m[3]]
		value, ok := params(name)
		switch {
		case ok:
			b.WriteString(value)
		case m[0] < execEnd:
			b.WriteString(raw[m[0]:m[1]])
		default:
			return "", taskerr.New(taskerr.MalformedTemplate, name, "template field {%s} names no parameter", name)
		}
	}
	b.WriteString(raw[last:])
	return b.String(), nil
}

// SubstitutePlaceholders replaces the global placeholders. Other
// upper-case {{NAME}} sequences, such as metavalues, are not touched.
func SubstitutePlaceholders(expr string, p Placeholders) string {
	return placeholderPattern.ReplaceAllStringFunc(expr, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := p.lookup(name); ok {
			return v
		}
		return m
	})
}
