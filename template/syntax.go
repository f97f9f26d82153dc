package template

// RedirectKind is the stream a redirector symbol captures.
type RedirectKind int

const (
	NoRedirect RedirectKind = iota
	RedirectStdout
	RedirectStderr
	RedirectBoth
)

func (k RedirectKind) String() string {
	switch k {
	case RedirectStdout:
		return "stdout"
	case RedirectStderr:
		return "stderr"
	case RedirectBoth:
		return "stdout+stderr"
	}
	return "none"
}

// Syntax holds the fixed markers of the template language.
// Its fields are unexported so a Syntax value cannot be changed once built.
type Syntax struct {
	separator        string
	spacer           string
	positionalSpacer string
	redirectors      map[string]RedirectKind
}

// DefaultSyntax is the marker set every component template is written in.
var DefaultSyntax = Syntax{
	separator:        "$$$",
	spacer:           "^^^",
	positionalSpacer: "###",
	redirectors: map[string]RedirectKind{
		">":  RedirectStdout,
		"2>": RedirectStderr,
		"&>": RedirectBoth,
	},
}

func (s Syntax) Separator() string        { return s.separator }
func (s Syntax) Spacer() string           { return s.spacer }
func (s Syntax) PositionalSpacer() string { return s.positionalSpacer }

// Redirector returns the kind of a redirector symbol, or NoRedirect.
func (s Syntax) Redirector(option string) RedirectKind {
	return s.redirectors[option]
}

// RedirectorSymbol returns the symbol for a redirect kind.
func (s Syntax) RedirectorSymbol(kind RedirectKind) string {
	for sym, k := range s.redirectors {
		if k == kind {
			return sym
		}
	}
	return ""
}
