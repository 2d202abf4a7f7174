package types

// TypeID is a stable handle to an interned IR type.
type TypeID uint32

// NoTypeID marks an absent or invalid type.
const NoTypeID TypeID = 0

// Kind enumerates IR type kinds. The set is fixed: the front end has
// already lowered every source type to one of these.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindUnit is the empty result of void instructions and functions.
	KindUnit
	KindBool
	KindInt
	KindUint
	KindFloat
	// KindPtr is an untyped-data pointer with a pointee element type.
	KindPtr
	// KindFn is a function signature type used by call operands.
	KindFn
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindUnit:
		return "unit"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindPtr:
		return "ptr"
	case KindFn:
		return "fn"
	}
	return "unknown"
}

// Width is a bit width for numeric types.
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// Type is a structural type descriptor. Elem is the pointee for KindPtr
// and the signature payload index for KindFn.
type Type struct {
	Kind  Kind
	Width Width
	Elem  TypeID
	Sig   uint32
}

// RegClass partitions types by the physical register file they occupy.
type RegClass uint8

const (
	// ClassNone covers unit and other unallocatable types.
	ClassNone RegClass = iota
	// ClassInt covers bools, integers and pointers.
	ClassInt
	// ClassFloat covers floating-point values.
	ClassFloat
)

func (c RegClass) String() string {
	switch c {
	case ClassInt:
		return "int"
	case ClassFloat:
		return "float"
	}
	return "none"
}

// Class returns the register class a value of this type occupies.
func (t Type) Class() RegClass {
	switch t.Kind {
	case KindBool, KindInt, KindUint, KindPtr, KindFn:
		return ClassInt
	case KindFloat:
		return ClassFloat
	}
	return ClassNone
}

// IsInteger reports whether the type is a (signed or unsigned) integer.
func (t Type) IsInteger() bool {
	return t.Kind == KindInt || t.Kind == KindUint
}

// IsNumeric reports whether the type supports arithmetic opcodes.
func (t Type) IsNumeric() bool {
	return t.IsInteger() || t.Kind == KindFloat
}
