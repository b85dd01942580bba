package alerts

import "errors"

// ErrNotFound indicates a missing rule or station reference.
var ErrNotFound = errors.New("alerts: not found")

// ValidationError reports a malformed rule or request field. It is
// surfaced to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "alerts: invalid " + e.Field + ": " + e.Message
}

// IsValidation reports whether err is a field validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
