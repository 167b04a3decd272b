package backup

import (
	"errors"
	"fmt"
)

// Kind classifies a failed run. The CLI maps it to an exit code.
type Kind string

const (
	KindConfiguration     Kind = "ConfigurationError"
	KindCloudProvisioning Kind = "CloudProvisioningError"
	KindDump              Kind = "DumpError"
	KindUpload            Kind = "UploadError"
	KindPrune             Kind = "PruneError"
	KindCleanup           Kind = "CleanupError"
)

var (
	ErrResourceFailed = errors.New("resource entered a failed state")
	ErrResourceGone   = errors.New("resource disappeared")
	ErrPollTimeout    = errors.New("timed out waiting for resource")
	ErrNoEndpoint     = errors.New("restored instance has no endpoint")
)

type Error struct {
	Kind       Kind
	Phase      string
	Resource   string
	Err        error
	Suggestion string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Phase, e.Kind)
	if e.Resource != "" {
		msg += " " + e.Resource
	}
	msg += fmt.Sprintf(": %v", e.Err)
	if e.Suggestion != "" {
		msg += fmt.Sprintf("\n Suggestion: %s", e.Suggestion)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, phase, resource string, err error) *Error {
	return &Error{
		Kind:     kind,
		Phase:    phase,
		Resource: resource,
		Err:      err,
	}
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var bErr *Error
	if errors.As(err, &bErr) {
		return bErr.Kind
	}
	return ""
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfiguration:
		return 2
	case KindCloudProvisioning:
		return 3
	case KindDump:
		return 4
	case KindUpload:
		return 5
	default:
		return 1
	}
}
