package diag

import (
	"fmt"

	"knull/internal/source"
)

// Note attaches secondary context to a diagnostic.
type Note struct {
	Span source.Span
	Msg  string
}

// Diagnostic is a structured record surfaced to the driver: the pipeline
// stage (via Code), the function it concerns, a human-readable message and
// an optional source span carried through from the typed AST.
type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Fn       string // function name, empty for module-level diagnostics
	Primary  source.Span
	Notes    []Note
}

func New(sev Severity, code Code, fn string, primary source.Span, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Fn:       fn,
		Primary:  primary,
		Message:  msg,
	}
}

func NewError(code Code, fn string, primary source.Span, msg string) Diagnostic {
	return New(SevError, code, fn, primary, msg)
}

func (d Diagnostic) WithNote(sp source.Span, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Span: sp, Msg: msg})
	return d
}

// Error lets a fatal Diagnostic propagate as an ordinary error value.
func (d Diagnostic) Error() string {
	if d.Fn != "" {
		return fmt.Sprintf("%s [%s] %s: %s", d.Severity, d.Code, d.Fn, d.Message)
	}
	return fmt.Sprintf("%s [%s] %s", d.Severity, d.Code, d.Message)
}
