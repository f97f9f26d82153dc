package template

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zavolanlab/krini/taskerr"
)

// ArgumentKind classifies the argument part of a token.
type ArgumentKind int

const (
	// ArgWord is a port reference or a literal; which one is decided at render time.
	ArgWord ArgumentKind = iota
	ArgSwitchOff
	ArgSwitchOn
	ArgRepeat
	ArgList
)

var (
	metavaluePattern = regexp.MustCompile(`(?s)^\{\{(.*)\}\}$`)
	integerPattern   = regexp.MustCompile(`^\d+$`)
	listPattern      = regexp.MustCompile(`(?s)^\[\[(.*)\]\]$`)
)

// Token is one option/spacer/argument triple of a command expression.
type Token struct {
	Index      int
	Text       string
	Option     string
	Positional bool
	Argument   string
	Kind       ArgumentKind
	Repeat     int
	Items      []string
	Redirect   RedirectKind
}

// Expression is a parsed command template.
type Expression struct {
	Executable string
	Tokens     []Token
}

// Parse splits a bound command template into tokens and classifies each.
// The result does not depend on any task and can be rendered many times.
func Parse(expr string, syn Syntax) (*Expression, error) {
	tokenPattern := regexp.MustCompile(`(?s)^(\S+?)(` + regexp.QuoteMeta(syn.Spacer()) + `|` +
		regexp.QuoteMeta(syn.PositionalSpacer()) + `)(.+)$`)

	parts := strings.Split(expr, syn.Separator())
	parsed := &Expression{Executable: strings.TrimSpace(parts[0])}
	redirected := false
	for i, part := range parts[1:] {
		text := strings.TrimSpace(part)
		m := tokenPattern.FindStringSubmatch(text)
		if m == nil {
			return nil, taskerr.New(taskerr.MalformedTemplate, text, "expression %d is not of the form option%sargument or option%sargument",
				i+1, syn.Spacer(), syn.PositionalSpacer())
		}
		tok := Token{
			Index:      i + 1,
			Text:       text,
			Option:     m[1],
			Positional: m[2] == syn.PositionalSpacer(),
			Argument:   m[3],
			Redirect:   syn.Redirector(m[1]),
		}
		if tok.Redirect != NoRedirect {
			redirected = true
			parsed.Tokens = append(parsed.Tokens, tok)
			continue
		}
		if redirected {
			return nil, taskerr.New(taskerr.TokenAfterRedirector, text, "only redirections may follow a redirection")
		}
		if err := classify(&tok); err != nil {
			return nil, err
		}
		parsed.Tokens = append(parsed.Tokens, tok)
	}
	return parsed, nil
}

// MaxRepeat is the largest repeat count a {{n}} metavalue may ask for.
const MaxRepeat = 1024

func classify(tok *Token) error {
	m := metavaluePattern.FindStringSubmatch(tok.Argument)
	if m == nil {
		tok.Kind = ArgWord
		return nil
	}
	content := m[1]
	switch {
	case content == "" || strings.EqualFold(content, "FALSE"):
		tok.Kind = ArgSwitchOff
	case strings.EqualFold(content, "TRUE"):
		tok.Kind = ArgSwitchOn
	case integerPattern.MatchString(content):
		n, err := strconv.Atoi(content)
		if err != nil {
			return taskerr.Wrap(taskerr.UnknownMetavalue, tok.Text, err)
		}
		if n > MaxRepeat {
			return taskerr.New(taskerr.UnknownMetavalue, tok.Text, "repeat count %d exceeds %d", n, MaxRepeat)
		}
		tok.Kind = ArgRepeat
		tok.Repeat = n
	case listPattern.MatchString(content):
		tok.Kind = ArgList
		for _, item := range strings.Split(listPattern.FindStringSubmatch(content)[1], "//") {
			if item = strings.TrimSpace(item); item != "" {
				tok.Items = append(tok.Items, item)
			}
		}
	default:
		return taskerr.New(taskerr.UnknownMetavalue, tok.Text, "metavalue {{%s}} is not recognized", content)
	}
	return nil
}

// Compile binds parameter fields and global placeholders into a raw
// template and parses the result.
func Compile(raw string, syn Syntax, params func(string) (string, bool), p Placeholders) (*Expression, error) {
	bound, err := Bind(raw, syn, params)
	if err != nil {
		return nil, err
	}
	return Parse(SubstitutePlaceholders(bound, p), syn)
}
