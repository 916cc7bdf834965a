package generic

import "fmt"

// Severity of a diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is one human-readable note produced while calculating.
type Diagnostic struct {
	Severity Severity
	Code     string // concept or employee code the note is about, may be empty
	Message  string
}

func (d Diagnostic) String() string {
	if d.Code == "" {
		return d.Message
	}
	return d.Code + ": " + d.Message
}

// Diagnostics is returned next to a value by every calculation step so the
// caller owns the merge, instead of a mutable list threaded through the stack.
type Diagnostics []Diagnostic

// Warnf appends a warning.
func (ds *Diagnostics) Warnf(code, format string, args ...any) {
	*ds = append(*ds, Diagnostic{Severity: SeverityWarning, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Errorf appends an error.
func (ds *Diagnostics) Errorf(code, format string, args ...any) {
	*ds = append(*ds, Diagnostic{Severity: SeverityError, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Merge appends other.
func (ds *Diagnostics) Merge(other Diagnostics) {
	*ds = append(*ds, other...)
}

// Warnings renders warning messages.
func (ds Diagnostics) Warnings() []string { return ds.render(SeverityWarning) }

// Errors renders error messages.
func (ds Diagnostics) Errors() []string { return ds.render(SeverityError) }

// HasErrors reports whether any error-level entry exists.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (ds Diagnostics) render(sev Severity) []string {
	var out []string
	for _, d := range ds {
		if d.Severity == sev {
			out = append(out, d.String())
		}
	}
	return out
}
