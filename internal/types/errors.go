package types

import "strings"

// FieldError describes why a single request field was rejected.
type FieldError struct {
	Field   string `json:"field"`   // JSON path of the field (e.g. "silence.threshold")
	Message string `json:"message"` // Readable reason
	Value   any    `json:"value"`   // Offending value
}

// ValidationError collects the field errors of one rejected request.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError returns an empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Errors: make([]FieldError, 0)}
}

// Add records a rejected field.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{Field: field, Message: message, Value: value})
}

// HasErrors reports whether any field was rejected.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
