package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for callers that need to react to it
type Kind string

const (
	KindUnknown          Kind = "UNKNOWN"
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindSourceMissing    Kind = "SOURCE_MISSING"
	KindDestinationWrite Kind = "DESTINATION_WRITE"
	KindCompareRead      Kind = "COMPARE_READ"
	KindRestore          Kind = "RESTORE"
	KindSubscription     Kind = "SUBSCRIPTION"
	KindManifest         Kind = "MANIFEST"
)

// Error is a classified error carrying the operation, the path involved and
// any extra context (dependency name, source, destination).
type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Details map[string]string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + e.Details[k]
		}
		msg += " (" + strings.Join(pairs, " ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind
func New(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(err error, kind Kind, op, path string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// With attaches a detail and returns the receiver
func (e *Error) With(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// IsKind reports whether any error in err's tree has the given kind
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
