package kir

import (
	"strconv"

	"knull/internal/types"
)

// RegID identifies a virtual register within one function.
type RegID uint32

// ValueKind enumerates value kinds.
type ValueKind uint8

const (
	// ValNone is the zero Value: no result (void and terminator
	// instructions).
	ValNone ValueKind = iota
	// ValConst is a typed literal.
	ValConst
	// ValReg is a virtual register, defined by exactly one instruction.
	ValReg
	// ValGlobal references a module-level symbol.
	ValGlobal
	// ValUndef is an unspecified value of a known type.
	ValUndef
)

// Value is an immutable SSA value. Values are small and compared with ==;
// "replacing" a value during optimization means rewriting the operand
// lists that mention it, never mutating the Value itself.
type Value struct {
	Kind ValueKind
	Type types.TypeID

	Reg    RegID
	Int    int64
	Float  float64
	Bool   bool
	Global string
}

// None is the absent value.
var None = Value{}

func IntConst(ty types.TypeID, v int64) Value {
	return Value{Kind: ValConst, Type: ty, Int: v}
}

func FloatConst(ty types.TypeID, v float64) Value {
	return Value{Kind: ValConst, Type: ty, Float: v}
}

func BoolConst(ty types.TypeID, v bool) Value {
	return Value{Kind: ValConst, Type: ty, Bool: v}
}

func RegValue(ty types.TypeID, id RegID) Value {
	return Value{Kind: ValReg, Type: ty, Reg: id}
}

func GlobalRef(ty types.TypeID, name string) Value {
	return Value{Kind: ValGlobal, Type: ty, Global: name}
}

func Undef(ty types.TypeID) Value {
	return Value{Kind: ValUndef, Type: ty}
}

func (v Value) IsNone() bool   { return v.Kind == ValNone }
func (v Value) IsConst() bool  { return v.Kind == ValConst }
func (v Value) IsReg() bool    { return v.Kind == ValReg }
func (v Value) IsGlobal() bool { return v.Kind == ValGlobal }
func (v Value) IsUndef() bool  { return v.Kind == ValUndef }

func (v Value) String() string {
	switch v.Kind {
	case ValNone:
		return "_"
	case ValConst:
		return constString(v)
	case ValReg:
		return "%" + strconv.FormatUint(uint64(v.Reg), 10)
	case ValGlobal:
		return "@" + v.Global
	case ValUndef:
		return "undef"
	}
	return "?"
}

func constString(v Value) string {
	// Render by the dominant payload; the printer adds the type.
	if v.Float != 0 {
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
	if v.Bool {
		return "true"
	}
	if v.Int != 0 {
		return strconv.FormatInt(v.Int, 10)
	}
	return "0"
}

// ConstEqual reports whether two constants are the same literal of the
// same type. Distinct from ==: float payloads of integer constants are
// ignored and vice versa would never be set.
func ConstEqual(a, b Value) bool {
	if a.Kind != ValConst || b.Kind != ValConst || a.Type != b.Type {
		return false
	}
	return a == b
}
