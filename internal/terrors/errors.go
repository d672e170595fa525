// Package terrors provides the structured error taxonomy used across
// turnstile: a base Error carrying category/code/hint information, plus
// typed wrappers for the concerns that need extra fields (network,
// install, state, validation).
package terrors

import "errors"

// Category classifies an error for reporting and for deciding whether a
// failure should produce a crash report.
type Category string

const (
	CategoryInput      Category = "input"
	CategoryState      Category = "state"
	CategoryRegistry   Category = "registry"
	CategoryNetwork    Category = "network"
	CategoryInstall    Category = "install"
	CategoryFileSystem Category = "filesystem"
	CategoryChild      Category = "child"
	CategoryBug        Category = "bug"
)

// Code is a machine-readable error code, grouped by category in the
// same E1xx-per-hundred style as the rest of the toolchain.
type Code string

const (
	CodeInvalidVersionSpec Code = "E101"
	CodeInvalidManifest    Code = "E102"
	CodeExtendsOutsideTree Code = "E103"
	CodeExtendsCycle       Code = "E104"

	CodeNoPlatform     Code = "E201"
	CodeLockContention Code = "E202"
	CodeStateCorrupt   Code = "E203"

	CodeRegistryFetchFailed Code = "E301"
	CodeNoMatchingVersion   Code = "E302"
	CodeInvalidIndex        Code = "E303"

	CodeNetworkFailed Code = "E401"
	CodeHTTPError     Code = "E402"

	CodeDownloadFailed  Code = "E501"
	CodeIntegrityFailed Code = "E502"
	CodeExtractFailed   Code = "E503"

	CodeFileSystem Code = "E601"

	CodeChildFailed Code = "E701"

	CodeBug Code = "E901"
)

// Error is the base error type for turnstile. It carries enough
// structure that a CLI layer can render it richly or serialize it as
// JSON without re-deriving context from the message string.
type Error struct {
	Category Category       `json:"category"`
	Code     Code           `json:"code,omitempty"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Hint     string         `json:"hint,omitempty"`
	Cause    error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by Code when both sides have one, else by category+message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != "" && t.Code != "" {
		return e.Code == t.Code
	}
	return e.Category == t.Category && e.Message == t.Message
}

func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(category Category, code Code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

func Wrap(category Category, code Code, message string, cause error) *Error {
	return &Error{Category: category, Code: code, Message: message, Cause: cause}
}

// IsBug reports whether err should trigger a crash report rather than a
// plain CLI message.
func IsBug(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == CategoryBug
	}
	return false
}

// CategoryOf extracts the Category from any of this package's error
// types (the base Error or one of its typed wrappers), or "" if err
// doesn't carry one.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	switch typed := err.(type) {
	case *NetworkError:
		return typed.Base.Category
	case *InstallError:
		return typed.Base.Category
	case *ChecksumError:
		return typed.Base.Category
	case *StateError:
		return typed.Base.Category
	case *ValidationError:
		return typed.Base.Category
	case *ProjectError:
		return typed.Base.Category
	default:
		return ""
	}
}
