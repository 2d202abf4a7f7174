package types

import (
	"fmt"

	"fortio.org/safecast"
)

// Builtins stores TypeIDs for common primitive types.
type Builtins struct {
	Invalid TypeID
	Unit    TypeID
	Bool    TypeID
	I8      TypeID
	I16     TypeID
	I32     TypeID
	I64     TypeID
	U8      TypeID
	U16     TypeID
	U32     TypeID
	U64     TypeID
	F32     TypeID
	F64     TypeID
}

// FnInfo is the signature payload of a KindFn type.
type FnInfo struct {
	Params []TypeID
	Result TypeID
}

// Interner provides stable TypeIDs by hashing structural descriptors.
type Interner struct {
	types    []Type
	index    map[Type]TypeID
	builtins Builtins
	fns      []FnInfo
	fnIndex  map[string]TypeID
}

// NewInterner constructs an interner seeded with built-in primitives.
func NewInterner() *Interner {
	in := &Interner{
		index:   make(map[Type]TypeID, 32),
		fnIndex: make(map[string]TypeID, 8),
	}
	in.fns = append(in.fns, FnInfo{}) // reserve 0 as invalid sentinel
	in.builtins.Invalid = in.internRaw(Type{Kind: KindInvalid})
	in.builtins.Unit = in.Intern(Type{Kind: KindUnit})
	in.builtins.Bool = in.Intern(Type{Kind: KindBool})
	in.builtins.I8 = in.Intern(Type{Kind: KindInt, Width: Width8})
	in.builtins.I16 = in.Intern(Type{Kind: KindInt, Width: Width16})
	in.builtins.I32 = in.Intern(Type{Kind: KindInt, Width: Width32})
	in.builtins.I64 = in.Intern(Type{Kind: KindInt, Width: Width64})
	in.builtins.U8 = in.Intern(Type{Kind: KindUint, Width: Width8})
	in.builtins.U16 = in.Intern(Type{Kind: KindUint, Width: Width16})
	in.builtins.U32 = in.Intern(Type{Kind: KindUint, Width: Width32})
	in.builtins.U64 = in.Intern(Type{Kind: KindUint, Width: Width64})
	in.builtins.F32 = in.Intern(Type{Kind: KindFloat, Width: Width32})
	in.builtins.F64 = in.Intern(Type{Kind: KindFloat, Width: Width64})
	return in
}

// Builtins returns TypeIDs for primitive types.
func (in *Interner) Builtins() Builtins {
	return in.builtins
}

// Intern ensures the provided descriptor has a stable TypeID.
func (in *Interner) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	if id, ok := in.index[t]; ok {
		return id
	}
	return in.internRaw(t)
}

// Ptr interns a pointer type with the given pointee.
func (in *Interner) Ptr(elem TypeID) TypeID {
	return in.Intern(Type{Kind: KindPtr, Width: Width64, Elem: elem})
}

// Fn interns a function signature type.
func (in *Interner) Fn(params []TypeID, result TypeID) TypeID {
	key := fnKey(params, result)
	if id, ok := in.fnIndex[key]; ok {
		return id
	}
	payload, err := safecast.Conv[uint32](len(in.fns))
	if err != nil {
		panic(fmt.Errorf("len(fns) overflow: %w", err))
	}
	in.fns = append(in.fns, FnInfo{Params: append([]TypeID(nil), params...), Result: result})
	id := in.internRaw(Type{Kind: KindFn, Width: Width64, Sig: payload})
	in.fnIndex[key] = id
	return id
}

// FnInfo returns the signature payload of a KindFn type.
func (in *Interner) FnInfo(id TypeID) (FnInfo, bool) {
	t, ok := in.Lookup(id)
	if !ok || t.Kind != KindFn || int(t.Sig) >= len(in.fns) {
		return FnInfo{}, false
	}
	return in.fns[t.Sig], true
}

// internRaw adds the descriptor to the storage without consulting the map.
func (in *Interner) internRaw(t Type) TypeID {
	lenTypes, err := safecast.Conv[uint32](len(in.types))
	if err != nil {
		panic(fmt.Errorf("len(types) overflow: %w", err))
	}
	id := TypeID(lenTypes)
	in.types = append(in.types, t)
	in.index[t] = id
	return id
}

// Lookup returns the descriptor for a TypeID.
func (in *Interner) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(in.types) {
		return Type{}, false
	}
	return in.types[id], true
}

// MustLookup panics when id is invalid.
func (in *Interner) MustLookup(id TypeID) Type {
	tt, ok := in.Lookup(id)
	if !ok {
		panic("types: invalid TypeID")
	}
	return tt
}

// Class returns the register class of a TypeID, ClassNone when unknown.
func (in *Interner) Class(id TypeID) RegClass {
	t, ok := in.Lookup(id)
	if !ok {
		return ClassNone
	}
	return t.Class()
}

// String renders a TypeID for dumps and diagnostics.
func (in *Interner) String(id TypeID) string {
	t, ok := in.Lookup(id)
	if !ok {
		return "?"
	}
	switch t.Kind {
	case KindInt:
		return fmt.Sprintf("i%d", t.Width)
	case KindUint:
		return fmt.Sprintf("u%d", t.Width)
	case KindFloat:
		return fmt.Sprintf("f%d", t.Width)
	case KindPtr:
		return "ptr<" + in.String(t.Elem) + ">"
	case KindFn:
		info, _ := in.FnInfo(id)
		s := "fn("
		for i, p := range info.Params {
			if i > 0 {
				s += ", "
			}
			s += in.String(p)
		}
		return s + ") -> " + in.String(info.Result)
	default:
		return t.Kind.String()
	}
}

func fnKey(params []TypeID, result TypeID) string {
	key := fmt.Sprintf("r%d", result)
	for _, p := range params {
		key += fmt.Sprintf(",p%d", p)
	}
	return key
}
