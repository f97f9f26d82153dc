package taskerr

import (
	"errors"
	"fmt"
)

// Kind names one failure class of a task run.
type Kind string

const (
	InvalidInput               Kind = "InvalidInput"
	InvalidOutputLocation      Kind = "InvalidOutputLocation"
	OutputNotWritable          Kind = "OutputNotWritable"
	OutputAlreadyExists        Kind = "OutputAlreadyExists"
	OutputDirectoryUnavailable Kind = "OutputDirectoryUnavailable"
	InvalidParameter           Kind = "InvalidParameter"
	ExecutableNotFound         Kind = "ExecutableNotFound"
	MalformedTemplate          Kind = "MalformedTemplate"
	AmbiguousRedirection       Kind = "AmbiguousRedirection"
	RedirectionTargetInvalid   Kind = "RedirectionTargetInvalid"
	TokenAfterRedirector       Kind = "TokenAfterRedirector"
	UnknownMetavalue           Kind = "UnknownMetavalue"
	DuplicateParameterName     Kind = "DuplicateParameterName"
	DuplicatePositionalSlot    Kind = "DuplicatePositionalSlot"
	SubmissionFailed           Kind = "SubmissionFailed"
	ExecutionFailed            Kind = "ExecutionFailed"
	JobFailed                  Kind = "JobFailed"
	JobStuck                   Kind = "JobStuck"
	JobTimeout                 Kind = "JobTimeout"
	JobAborted                 Kind = "JobAborted"
	JobKilled                  Kind = "JobKilled"
	JobExitedAbnormally        Kind = "JobExitedAbnormally"
	OutputRepairFailed         Kind = "OutputRepairFailed"
)

// Error implements error so a Kind can be used directly as an errors.Is target.
func (k Kind) Error() string {
	return string(k)
}

// Error is a classified task failure. Subject is the port, parameter,
// token or job the failure is about.
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Subject != "" {
		msg += " [" + e.Subject + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error or a bare Kind by kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// New returns a classified error with a formatted message.
func New(kind Kind, subject string, f string, v ...interface{}) error {
	return &Error{Kind: kind, Subject: subject, Err: fmt.Errorf(f, v...)}
}

// Wrap classifies err.
func Wrap(kind Kind, subject string, err error) error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
