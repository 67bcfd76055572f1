package pipeline

import "errors"

// Error kinds. Callers classify failures with errors.Is.
var (
	ErrInput       = errors.New("invalid input")
	ErrAcquisition = errors.New("acquisition failed")
	ErrRender      = errors.New("render failed")
)

// Error is a classified pipeline failure. Its message is what clients see.
type Error struct {
	Kind  error
	msg   string
	cause error
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	switch {
	case e.msg != "" && e.cause != nil:
		return e.msg + ": " + e.cause.Error()
	case e.msg != "":
		return e.msg
	case e.cause != nil:
		return e.cause.Error()
	default:
		return e.Kind.Error()
	}
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Kind classifies err, returning nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{ErrInput, ErrAcquisition, ErrRender} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
