package descriptor

import "strings"

// PortKind is the class of a port, derived from its name prefix.
type PortKind int

const (
	UnknownPort PortKind = iota
	InFile
	InDir
	OutFile
	OutDir
	OutDirMake
)

var portPrefixes = []struct {
	prefix string
	kind   PortKind
}{
	{"INFILE_", InFile},
	{"INDIR_", InDir},
	{"OUTFILE_", OutFile},
	{"OUTDIRMAKE_", OutDirMake},
	{"OUTDIR_", OutDir},
}

// KindOf classifies a port name.
func KindOf(name string) PortKind {
	for _, p := range portPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.kind
		}
	}
	return UnknownPort
}

// Prefix returns the name prefix of a port kind.
func (k PortKind) Prefix() string {
	for _, p := range portPrefixes {
		if p.kind == k {
			return p.prefix
		}
	}
	return ""
}

func (k PortKind) IsInput() bool  { return k == InFile || k == InDir }
func (k PortKind) IsOutput() bool { return k == OutFile || k == OutDir || k == OutDirMake }

func (k PortKind) String() string {
	switch k {
	case InFile:
		return "input file"
	case InDir:
		return "input directory"
	case OutFile:
		return "output file"
	case OutDir:
		return "output directory"
	case OutDirMake:
		return "pre-created output directory"
	}
	return "unknown port"
}
