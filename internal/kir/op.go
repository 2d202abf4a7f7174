package kir

// Op enumerates KIR instruction opcodes. The set is closed; every switch
// over Op in this package and its consumers is meant to be exhaustive.
type Op uint8

const (
	OpInvalid Op = iota

	// memory
	OpAlloca // %r = alloca T          (stack slot, %r : ptr<T>)
	OpLoad   // %r = load %p
	OpStore  // store %p, %v
	OpMemset // memset %p, %byte, %n
	OpMemcpy // memcpy %dst, %src, %n

	// arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg

	// bitwise
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNot

	// comparison (result: bool)
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// conversion
	OpCast

	// atomic
	OpAtomicAdd
	OpAtomicXchg

	// calls and SSA
	OpCall
	OpPhi
)

var opNames = [...]string{
	OpInvalid:    "invalid",
	OpAlloca:     "alloca",
	OpLoad:       "load",
	OpStore:      "store",
	OpMemset:     "memset",
	OpMemcpy:     "memcpy",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpDiv:        "div",
	OpRem:        "rem",
	OpNeg:        "neg",
	OpAnd:        "and",
	OpOr:         "or",
	OpXor:        "xor",
	OpShl:        "shl",
	OpShr:        "shr",
	OpNot:        "not",
	OpEq:         "eq",
	OpNe:         "ne",
	OpLt:         "lt",
	OpLe:         "le",
	OpGt:         "gt",
	OpGe:         "ge",
	OpCast:       "cast",
	OpAtomicAdd:  "atomic_add",
	OpAtomicXchg: "atomic_xchg",
	OpCall:       "call",
	OpPhi:        "phi",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "op?"
}

// HasSideEffects reports whether removing an instruction with this opcode
// can change observable behavior even when its result is unused.
func (op Op) HasSideEffects() bool {
	switch op {
	case OpStore, OpMemset, OpMemcpy, OpCall, OpAtomicAdd, OpAtomicXchg:
		return true
	}
	return false
}

// Idempotent reports whether two structurally equal instructions with this
// opcode always compute the same value, making them CSE candidates. Loads
// are excluded: an intervening store may change what they observe.
func (op Op) Idempotent() bool {
	switch op {
	case OpLoad, OpStore, OpMemset, OpMemcpy, OpCall, OpAtomicAdd, OpAtomicXchg, OpAlloca, OpPhi:
		return false
	}
	return true
}

// IsBinary reports whether the opcode takes exactly two operands and
// computes a pure scalar result.
func (op Op) IsBinary() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem,
		OpAnd, OpOr, OpXor, OpShl, OpShr,
		OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsComparison reports whether the opcode yields a bool from two operands.
func (op Op) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsCommutative reports whether operand order does not matter. CSE
// normalizes operand order for these before hashing.
func (op Op) IsCommutative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpEq, OpNe:
		return true
	}
	return false
}
