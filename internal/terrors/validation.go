package terrors

import "fmt"

// ValidationError reports malformed user input: an unparsable version
// spec, or a field with a value outside the accepted set. Extends-chain
// problems are reported as ProjectError instead.
type ValidationError struct {
	Base     Error  `json:"error"`
	Field    string `json:"field,omitempty"`
	Expected string `json:"expected,omitempty"`
	Got      string `json:"got,omitempty"`
}

func NewValidationError(field, expected, got string) *ValidationError {
	return &ValidationError{
		Base: Error{
			Category: CategoryInput,
			Code:     CodeInvalidManifest,
			Message:  fmt.Sprintf("invalid value for %s", field),
		},
		Field:    field,
		Expected: expected,
		Got:      got,
	}
}

func NewInvalidVersionSpecError(got string, cause error) *ValidationError {
	return &ValidationError{
		Base: Error{
			Category: CategoryInput,
			Code:     CodeInvalidVersionSpec,
			Message:  "invalid version specifier",
			Cause:    cause,
		},
		Field: "version",
		Got:   got,
	}
}

func (e *ValidationError) Error() string { return e.Base.Error() }
func (e *ValidationError) Unwrap() error { return e.Base.Cause }
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Base.Code == t.Base.Code
}
