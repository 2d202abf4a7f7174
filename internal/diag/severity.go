package diag

// Severity ranks a diagnostic. The mid end emits two levels: warnings
// (pass refusals and other recoverable decisions) and errors (malformed
// IR, exhausted targets), which abort the compile.
type Severity uint8

const (
	SevWarning Severity = iota
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	}
	return "severity(?)"
}
