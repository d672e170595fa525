package terrors

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Formatter renders errors for CLI output, with structured color coding
// for the fields a human needs to act on a failure.
type Formatter struct {
	NoColor bool
	Writer  io.Writer

	errorColor    *color.Color
	codeColor     *color.Color
	resourceColor *color.Color
	hintColor     *color.Color
	expectedColor *color.Color
	gotColor      *color.Color
	dimColor      *color.Color
}

func NewFormatter(w io.Writer, noColor bool) *Formatter {
	if noColor {
		color.NoColor = true
	}
	return &Formatter{
		NoColor:       noColor,
		Writer:        w,
		errorColor:    color.New(color.FgRed, color.Bold),
		codeColor:     color.New(color.FgRed),
		resourceColor: color.New(color.FgCyan),
		hintColor:     color.New(color.FgGreen),
		expectedColor: color.New(color.FgYellow),
		gotColor:      color.New(color.FgRed),
		dimColor:      color.New(color.FgHiBlack),
	}
}

func (f *Formatter) formatErrorHeader(sb *strings.Builder, code Code, message string) {
	sb.WriteString(f.errorColor.Sprint("Error"))
	if code != "" {
		sb.WriteString(" ")
		sb.WriteString(f.codeColor.Sprintf("[%s]", code))
	}
	sb.WriteString(f.errorColor.Sprint(": "))
	sb.WriteString(message)
	sb.WriteString("\n")
}

// Format renders err as multi-line CLI text.
func (f *Formatter) Format(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder
	var valErr *ValidationError
	var installErr *InstallError
	var checksumErr *ChecksumError
	var networkErr *NetworkError
	var stateErr *StateError
	var baseErr *Error

	switch {
	case errors.As(err, &valErr):
		f.formatValidationError(&sb, valErr)
	case errors.As(err, &checksumErr):
		f.formatChecksumError(&sb, checksumErr)
	case errors.As(err, &installErr):
		f.formatInstallError(&sb, installErr)
	case errors.As(err, &networkErr):
		f.formatNetworkError(&sb, networkErr)
	case errors.As(err, &stateErr):
		f.formatStateError(&sb, stateErr)
	case errors.As(err, &baseErr):
		f.formatBaseError(&sb, baseErr)
	default:
		sb.WriteString(f.errorColor.Sprint("Error: "))
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}

	return sb.String()
}

// FormatJSON renders err as a structured JSON document, for callers
// that want machine-readable output instead of the colored CLI text.
func (f *Formatter) FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return nil, nil
	}
	var valErr *ValidationError
	var installErr *InstallError
	var checksumErr *ChecksumError
	var networkErr *NetworkError
	var stateErr *StateError
	var baseErr *Error

	switch {
	case errors.As(err, &valErr):
		return json.MarshalIndent(valErr, "", "  ")
	case errors.As(err, &checksumErr):
		return json.MarshalIndent(checksumErr, "", "  ")
	case errors.As(err, &installErr):
		return json.MarshalIndent(installErr, "", "  ")
	case errors.As(err, &networkErr):
		return json.MarshalIndent(networkErr, "", "  ")
	case errors.As(err, &stateErr):
		return json.MarshalIndent(stateErr, "", "  ")
	case errors.As(err, &baseErr):
		return json.MarshalIndent(baseErr, "", "  ")
	default:
		return json.MarshalIndent(map[string]string{"error": err.Error()}, "", "  ")
	}
}

func (f *Formatter) formatValidationError(sb *strings.Builder, err *ValidationError) {
	f.formatErrorHeader(sb, err.Base.Code, err.Base.Message)
	sb.WriteString("\n")
	if err.Field != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Field:    "))
		sb.WriteString(err.Field)
		sb.WriteString("\n")
	}
	if err.Expected != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Expected: "))
		sb.WriteString(f.expectedColor.Sprint(err.Expected))
		sb.WriteString("\n")
	}
	if err.Got != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Got:      "))
		sb.WriteString(f.gotColor.Sprint(err.Got))
		sb.WriteString("\n")
	}
	f.formatHint(sb, &err.Base)
}

func (f *Formatter) formatInstallError(sb *strings.Builder, err *InstallError) {
	f.formatErrorHeader(sb, err.Base.Code, err.Base.Message)
	sb.WriteString("\n")
	if err.Tool != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Tool:    "))
		sb.WriteString(f.resourceColor.Sprint(err.Tool))
		sb.WriteString("\n")
	}
	if err.Version != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Version: "))
		sb.WriteString(err.Version)
		sb.WriteString("\n")
	}
	if err.URL != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("URL:     "))
		sb.WriteString(err.URL)
		sb.WriteString("\n")
	}
	if err.Base.Cause != nil {
		sb.WriteString("\n  ")
		sb.WriteString(f.dimColor.Sprint("Cause: "))
		sb.WriteString(err.Base.Cause.Error())
		sb.WriteString("\n")
	}
	f.formatHint(sb, &err.Base)
}

func (f *Formatter) formatChecksumError(sb *strings.Builder, err *ChecksumError) {
	f.formatErrorHeader(sb, err.Base.Code, err.Base.Message)
	sb.WriteString("\n")
	if err.Tool != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Tool: "))
		sb.WriteString(f.resourceColor.Sprint(err.Tool))
		sb.WriteString("\n")
	}
	if err.URL != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("URL:  "))
		sb.WriteString(err.URL)
		sb.WriteString("\n")
	}
	sb.WriteString("\n  ")
	sb.WriteString(f.dimColor.Sprint("Expected: "))
	sb.WriteString(f.expectedColor.Sprint(err.Expected))
	sb.WriteString("\n  ")
	sb.WriteString(f.dimColor.Sprint("Got:      "))
	sb.WriteString(f.gotColor.Sprint(err.Got))
	sb.WriteString("\n")
	f.formatHint(sb, &err.Base)
}

func (f *Formatter) formatNetworkError(sb *strings.Builder, err *NetworkError) {
	f.formatErrorHeader(sb, err.Base.Code, err.Base.Message)
	sb.WriteString("\n")
	if err.URL != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("URL:    "))
		sb.WriteString(err.URL)
		sb.WriteString("\n")
	}
	if err.StatusCode > 0 {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Status: "))
		sb.WriteString(f.gotColor.Sprintf("%d", err.StatusCode))
		sb.WriteString("\n")
	}
	if err.Base.Cause != nil {
		sb.WriteString("\n  ")
		sb.WriteString(f.dimColor.Sprint("Cause: "))
		sb.WriteString(err.Base.Cause.Error())
		sb.WriteString("\n")
	}
	f.formatHint(sb, &err.Base)
}

func (f *Formatter) formatStateError(sb *strings.Builder, err *StateError) {
	f.formatErrorHeader(sb, err.Base.Code, err.Base.Message)
	sb.WriteString("\n")
	if err.LockPID > 0 {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Held by PID: "))
		sb.WriteString(f.gotColor.Sprintf("%d", err.LockPID))
		sb.WriteString("\n")
	}
	if err.LockFile != "" {
		sb.WriteString("  ")
		sb.WriteString(f.dimColor.Sprint("Lock file: "))
		sb.WriteString(f.resourceColor.Sprint(err.LockFile))
		sb.WriteString("\n")
	}
	f.formatHint(sb, &err.Base)
}

func (f *Formatter) formatBaseError(sb *strings.Builder, err *Error) {
	f.formatErrorHeader(sb, err.Code, err.Message)
	if err.Cause != nil {
		sb.WriteString("\n  ")
		sb.WriteString(f.dimColor.Sprint("Cause: "))
		sb.WriteString(err.Cause.Error())
		sb.WriteString("\n")
	}
	f.formatHint(sb, err)
}

func (f *Formatter) formatHint(sb *strings.Builder, err *Error) {
	if err.Hint == "" {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(f.hintColor.Sprint("Hint: "))
	lines := strings.Split(err.Hint, "\n")
	sb.WriteString(lines[0])
	sb.WriteString("\n")
	for _, line := range lines[1:] {
		sb.WriteString("      ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}
