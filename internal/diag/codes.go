package diag

import "fmt"

// Code identifies a diagnostic category. The mid-end owns the 7xxx space;
// lower ranges are reserved for the front end.
type Code uint16

const (
	UnknownCode Code = 0

	// Lowering (typed AST -> KIR)
	LowerInfo              Code = 7000
	LowerUnsupportedType   Code = 7001
	LowerUnsupportedExpr   Code = 7002
	LowerUnsupportedStmt   Code = 7003
	LowerUnresolvedBinding Code = 7004

	// Verifier (Malformed-IR, always an internal compiler error)
	VerifyInfo              Code = 7100
	VerifyDanglingBlock     Code = 7101
	VerifyMissingTerminator Code = 7102
	VerifyInstrAfterTerm    Code = 7103
	VerifyPhiMismatch       Code = 7104
	VerifyMultipleDefs      Code = 7105
	VerifyUseNotDominated   Code = 7106
	VerifyTypeMismatch      Code = 7107
	VerifyOperandCount      Code = 7108
	VerifyEntryHasPreds     Code = 7109

	// Optimization passes
	PassInfo    Code = 7200
	PassRefusal Code = 7201

	// Register allocation
	AllocInfo       Code = 7300
	AllocExhaustion Code = 7301

	// Backend dispatch
	BackendInfo        Code = 7400
	BackendUnsupported Code = 7401
	BackendBadModule   Code = 7402
)

func (c Code) String() string {
	return fmt.Sprintf("K%04d", uint16(c))
}

// Fatal reports whether diagnostics with this code abort the whole
// compile. Pass refusals never do; malformed IR, allocation exhaustion
// and unsupported opcodes always do.
func (c Code) Fatal() bool {
	switch {
	case c >= VerifyInfo && c < PassInfo:
		return true
	case c == AllocExhaustion:
		return true
	case c == BackendUnsupported || c == BackendBadModule:
		return true
	case c >= LowerUnsupportedType && c < VerifyInfo:
		return true
	}
	return false
}
