package consultation

import (
	"errors"
	"fmt"
)

// Collaborator failure taxonomy. The backend HTTP client maps responses to
// these sentinels so the reconciler and save path can branch on errors.Is
// without knowing the wire format.
var (
	// ErrNotFound means the patient/consultation no longer exists
	// server-side. Triggers cleanup, never retried.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means the backend refused a duplicate
	// consultation/prescription creation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConnectivity means the backend was unreachable. Non-blocking;
	// polling and reconnection continue.
	ErrConnectivity = errors.New("backend unreachable")
)

// ValidationError blocks a save locally before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
