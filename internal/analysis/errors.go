package analysis

import "errors"

var (
	// ErrNoContentKinds is wrapped when no content kind is selected.
	ErrNoContentKinds = errors.New("no content kind selected")
	// ErrNoImage is wrapped when an operation needs an image and none is loaded.
	ErrNoImage = errors.New("no image loaded")
	// ErrAnalysisInProgress is wrapped when regeneration is requested before
	// the first analysis of the image has finished.
	ErrAnalysisInProgress = errors.New("analysis in progress")

	// ErrSuperseded is returned when a newer image or regeneration replaced
	// the work before it completed. Its result was discarded.
	ErrSuperseded = errors.New("superseded by newer work")
)

// ValidationError reports a request rejected before any work started.
// Message is the text shown to the user.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validationError(err error, message string) *ValidationError {
	return &ValidationError{Err: err, Message: message}
}
