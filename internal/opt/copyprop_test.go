package opt

import (
	"testing"

	"knull/internal/kir"
	"knull/internal/types"
)

func TestCopyProp_IntIdentities(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	cases := []struct {
		name string
		op   kir.Op
		lhs  bool // identity constant on the left
		c    int64
	}{
		{"add-zero", kir.OpAdd, false, 0},
		{"add-zero-comm", kir.OpAdd, true, 0},
		{"sub-zero", kir.OpSub, false, 0},
		{"mul-one", kir.OpMul, false, 1},
		{"mul-one-comm", kir.OpMul, true, 1},
		{"div-one", kir.OpDiv, false, 1},
		{"or-zero", kir.OpOr, false, 0},
		{"xor-zero", kir.OpXor, false, 0},
		{"shl-zero", kir.OpShl, false, 0},
		{"shr-zero", kir.OpShr, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := kir.NewFunc("id", i64)
			x := f.AddParam(i64)
			entry := f.Entry()
			a, b := x, kir.IntConst(i64, tc.c)
			if tc.lhs {
				a, b = b, a
			}
			r := bin(f, entry, tc.op, i64, a, b)
			f.SetTerm(entry, retVal(r))

			if !NewCopyProp(tin).Run(f) {
				t.Fatal("identity not propagated")
			}
			if entry.Term.Ret.Value != x {
				t.Fatalf("return reads %v, want the parameter", entry.Term.Ret.Value)
			}
		})
	}
}

// TestCopyProp_FloatAddZeroKept pins the signed-zero rule: x + 0.0 is not
// an identity for floats because -0.0 + 0.0 is +0.0.
func TestCopyProp_FloatAddZeroKept(t *testing.T) {
	tin := types.NewInterner()
	f64 := tin.Builtins().F64

	f := kir.NewFunc("fz", f64)
	x := f.AddParam(f64)
	entry := f.Entry()
	r := bin(f, entry, kir.OpAdd, f64, x, kir.FloatConst(f64, 0))
	f.SetTerm(entry, retVal(r))

	if NewCopyProp(tin).Run(f) {
		t.Fatal("float x+0.0 must not be treated as an identity")
	}
}

func TestCopyProp_SameTypeCast(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("c", i64)
	x := f.AddParam(i64)
	entry := f.Entry()
	r := f.NewReg(i64)
	entry.Append(kir.Instr{Op: kir.OpCast, Result: r, Type: i64, Args: []kir.Value{x}})
	f.SetTerm(entry, retVal(r))

	if !NewCopyProp(tin).Run(f) {
		t.Fatal("same-type cast not forwarded")
	}
	if entry.Term.Ret.Value != x {
		t.Fatal("cast result not replaced by its operand")
	}
}

func TestCopyProp_WideningCastKept(t *testing.T) {
	tin := types.NewInterner()
	i32 := tin.Builtins().I32
	i64 := tin.Builtins().I64

	f := kir.NewFunc("c", i64)
	x := f.AddParam(i32)
	entry := f.Entry()
	r := f.NewReg(i64)
	entry.Append(kir.Instr{Op: kir.OpCast, Result: r, Type: i64, Args: []kir.Value{x}})
	f.SetTerm(entry, retVal(r))

	if NewCopyProp(tin).Run(f) {
		t.Fatal("widening cast must survive")
	}
}

// TestCopyProp_PhiForward collapses a phi whose incoming values are all the
// same register, self-references ignored.
func TestCopyProp_PhiForward(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	boolT := tin.Builtins().Bool

	f := kir.NewFunc("pf", i64)
	c := f.AddParam(boolT)
	x := f.AddParam(i64)
	entry := f.Entry()
	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()

	f.SetTerm(entry, jumpIf(c, left.ID, right.ID))
	f.SetTerm(left, jump(join.ID))
	f.SetTerm(right, jump(join.ID))

	phi := f.NewReg(i64)
	join.Instrs = append(join.Instrs, kir.Instr{
		Op: kir.OpPhi, Result: phi, Type: i64,
		Args:  []kir.Value{x, x},
		Preds: []kir.BlockID{left.ID, right.ID},
	})
	f.SetTerm(join, retVal(phi))

	if !NewCopyProp(tin).Run(f) {
		t.Fatal("single-value phi not forwarded")
	}
	if join.Term.Ret.Value != x {
		t.Fatalf("return reads %v, want the forwarded value", join.Term.Ret.Value)
	}
}

func TestCopyProp_MixedPhiKept(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	boolT := tin.Builtins().Bool

	f := kir.NewFunc("pm", i64)
	c := f.AddParam(boolT)
	x := f.AddParam(i64)
	y := f.AddParam(i64)
	entry := f.Entry()
	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()

	f.SetTerm(entry, jumpIf(c, left.ID, right.ID))
	f.SetTerm(left, jump(join.ID))
	f.SetTerm(right, jump(join.ID))

	phi := f.NewReg(i64)
	join.Instrs = append(join.Instrs, kir.Instr{
		Op: kir.OpPhi, Result: phi, Type: i64,
		Args:  []kir.Value{x, y},
		Preds: []kir.BlockID{left.ID, right.ID},
	})
	f.SetTerm(join, retVal(phi))

	if NewCopyProp(tin).Run(f) {
		t.Fatal("phi merging two distinct values must stay")
	}
}
