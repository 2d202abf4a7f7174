package opt

import (
	"math"
	"testing"

	"knull/internal/kir"
	"knull/internal/types"
)

func TestFold_IntWraparound(t *testing.T) {
	tin := types.NewInterner()
	i8 := tin.Builtins().I8

	f := kir.NewFunc("w", i8)
	entry := f.Entry()
	r := bin(f, entry, kir.OpAdd, i8, kir.IntConst(i8, 127), kir.IntConst(i8, 1))
	f.SetTerm(entry, retVal(r))

	if !NewFold(tin).Run(f) {
		t.Fatal("constant add not folded")
	}
	got := entry.Term.Ret.Value
	if !got.IsConst() || got.Int != -128 {
		t.Fatalf("i8 127+1 folded to %v, want -128", got)
	}
}

func TestFold_UnsignedCompare(t *testing.T) {
	tin := types.NewInterner()
	u8 := tin.Builtins().U8
	boolT := tin.Builtins().Bool

	// 0xFF as u8 is 255, which is greater than 1.
	f := kir.NewFunc("u", boolT)
	entry := f.Entry()
	r := bin(f, entry, kir.OpGt, boolT, kir.IntConst(u8, -1), kir.IntConst(u8, 1))
	f.SetTerm(entry, retVal(r))

	NewFold(tin).Run(f)
	got := entry.Term.Ret.Value
	if !got.IsConst() || !got.Bool {
		t.Fatalf("u8 255 > 1 folded to %v, want true", got)
	}
}

func TestFold_DivByZeroStays(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("dz", i64)
	entry := f.Entry()
	r := bin(f, entry, kir.OpDiv, i64, kir.IntConst(i64, 7), kir.IntConst(i64, 0))
	f.SetTerm(entry, retVal(r))

	if NewFold(tin).Run(f) {
		t.Fatal("division by a constant zero must not fold")
	}
	if countOps(f, kir.OpDiv) != 1 {
		t.Fatal("div instruction vanished")
	}
}

func TestFold_SignedDivOverflowWraps(t *testing.T) {
	tin := types.NewInterner()
	i8 := tin.Builtins().I8

	f := kir.NewFunc("ov", i8)
	entry := f.Entry()
	r := bin(f, entry, kir.OpDiv, i8, kir.IntConst(i8, -128), kir.IntConst(i8, -1))
	f.SetTerm(entry, retVal(r))

	if !NewFold(tin).Run(f) {
		t.Fatal("expected a fold")
	}
	got := entry.Term.Ret.Value
	if got.Int != -128 {
		t.Fatalf("i8 MIN / -1 = %d, want wraparound to -128", got.Int)
	}
}

func TestFold_NaNComparisons(t *testing.T) {
	tin := types.NewInterner()
	f64 := tin.Builtins().F64
	boolT := tin.Builtins().Bool
	nan := kir.FloatConst(f64, math.NaN())
	one := kir.FloatConst(f64, 1)

	cases := []struct {
		op   kir.Op
		want bool
	}{
		{kir.OpEq, false},
		{kir.OpNe, true},
		{kir.OpLt, false},
		{kir.OpGe, false},
	}
	for _, tc := range cases {
		f := kir.NewFunc("nan", boolT)
		entry := f.Entry()
		r := bin(f, entry, tc.op, boolT, nan, one)
		f.SetTerm(entry, retVal(r))

		NewFold(tin).Run(f)
		got := entry.Term.Ret.Value
		if !got.IsConst() || got.Bool != tc.want {
			t.Errorf("%s(NaN, 1) = %v, want %v", tc.op, got, tc.want)
		}
	}
}

func TestFold_Float32Rounds(t *testing.T) {
	tin := types.NewInterner()
	f32 := tin.Builtins().F32

	// 0.1 + 0.2 in f32 differs from the f64 sum.
	f := kir.NewFunc("r32", f32)
	entry := f.Entry()
	r := bin(f, entry, kir.OpAdd, f32, kir.FloatConst(f32, 0.1), kir.FloatConst(f32, 0.2))
	f.SetTerm(entry, retVal(r))

	NewFold(tin).Run(f)
	got := entry.Term.Ret.Value
	want := float64(float32(0.1) + float32(0.2))
	if got.Float != want {
		t.Fatalf("f32 sum = %v, want %v", got.Float, want)
	}
}

func TestFold_ShiftMasksAmount(t *testing.T) {
	tin := types.NewInterner()
	i32 := tin.Builtins().I32

	// Shift amounts reduce modulo the width: 1 << 33 on i32 is 1 << 1.
	f := kir.NewFunc("sh", i32)
	entry := f.Entry()
	r := bin(f, entry, kir.OpShl, i32, kir.IntConst(i32, 1), kir.IntConst(i32, 33))
	f.SetTerm(entry, retVal(r))

	NewFold(tin).Run(f)
	if got := entry.Term.Ret.Value.Int; got != 2 {
		t.Fatalf("i32 1<<33 = %d, want 2", got)
	}
}

// TestFold_ConstBranch folds a branch on a constant condition into a jump
// and removes the dead edge from the join phi.
func TestFold_ConstBranch(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	boolT := tin.Builtins().Bool

	f := kir.NewFunc("br", i64)
	entry := f.Entry()
	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()

	f.SetTerm(entry, jumpIf(kir.BoolConst(boolT, true), left.ID, right.ID))
	f.SetTerm(left, jump(join.ID))
	f.SetTerm(right, jump(join.ID))

	phi := f.NewReg(i64)
	join.Instrs = append(join.Instrs, kir.Instr{
		Op: kir.OpPhi, Result: phi, Type: i64,
		Args:  []kir.Value{kir.IntConst(i64, 10), kir.IntConst(i64, 20)},
		Preds: []kir.BlockID{left.ID, right.ID},
	})
	f.SetTerm(join, retVal(phi))

	if !NewFold(tin).Run(f) {
		t.Fatal("constant branch not folded")
	}
	if entry.Term.Kind != kir.TermJump || entry.Term.Jump.Target != left.ID {
		t.Fatalf("entry terminator = %v, want jump to the taken arm", entry.Term.Kind)
	}

	// DCE sweeps the now-unreachable arm; the phi collapses on the next
	// copy-propagation round.
	NewDCE().Run(f)
	mustVerify(t, moduleOf(t, f), tin)
}

func TestFold_ConstSwitch(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("sw", i64)
	entry := f.Entry()
	a := f.AddBlock()
	b := f.AddBlock()
	dflt := f.AddBlock()

	f.SetTerm(entry, kir.Terminator{Kind: kir.TermSwitch, Switch: kir.SwitchTerm{
		Value: kir.IntConst(i64, 2),
		Cases: []kir.SwitchCase{
			{Const: 1, Target: a.ID},
			{Const: 2, Target: b.ID},
		},
		Default: dflt.ID,
	}})
	f.SetTerm(a, retVal(kir.IntConst(i64, 100)))
	f.SetTerm(b, retVal(kir.IntConst(i64, 200)))
	f.SetTerm(dflt, retVal(kir.IntConst(i64, 300)))

	if !NewFold(tin).Run(f) {
		t.Fatal("constant switch not folded")
	}
	if entry.Term.Kind != kir.TermJump || entry.Term.Jump.Target != b.ID {
		t.Fatal("switch did not fold to the matching case")
	}
}
