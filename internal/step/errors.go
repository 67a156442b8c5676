package step

import "fmt"

// Kind classifies why a step failed.
type Kind string

const (
	// KindConfiguration covers a blank script or an unusable installation;
	// the tool is never launched.
	KindConfiguration Kind = "ConfigurationError"
	// KindExecution covers failures to start, wait for, or keep running the tool.
	KindExecution Kind = "ExecutionError"
	// KindResultIO covers failures scanning the workspace or reading result files.
	KindResultIO Kind = "ResultIOError"
	// KindVerdict means the tool ran but at least one test failed.
	KindVerdict Kind = "VerdictFailure"
)

// Sentinels for errors.Is; only the kind is compared.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrExecution     = &Error{Kind: KindExecution}
	ErrResultIO      = &Error{Kind: KindResultIO}
	ErrVerdict       = &Error{Kind: KindVerdict}
)

// Error is a classified step failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
