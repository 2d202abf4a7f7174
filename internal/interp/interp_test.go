package interp

import (
	"errors"
	"testing"

	"knull/internal/kir"
	"knull/internal/types"
)

func retVal(v kir.Value) kir.Terminator {
	return kir.Terminator{Kind: kir.TermRet, Ret: kir.RetTerm{HasValue: true, Value: v}}
}

func bin(f *kir.Func, b *kir.Block, op kir.Op, ty types.TypeID, x, y kir.Value) kir.Value {
	r := f.NewReg(ty)
	b.Append(kir.Instr{Op: op, Result: r, Type: ty, Args: []kir.Value{x, y}})
	return r
}

func oneFunc(t *testing.T, tin *types.Interner, f *kir.Func) *Machine {
	t.Helper()
	m := kir.NewModule("t")
	if err := m.AddFunc(f); err != nil {
		t.Fatal(err)
	}
	if err := kir.Verify(m, tin); err != nil {
		t.Fatal(err)
	}
	return New(m, tin)
}

func TestCall_Arithmetic(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("axpb", i64)
	a := f.AddParam(i64)
	x := f.AddParam(i64)
	entry := f.Entry()
	p := bin(f, entry, kir.OpMul, i64, a, x)
	s := bin(f, entry, kir.OpAdd, i64, p, kir.IntConst(i64, 7))
	f.SetTerm(entry, retVal(s))

	got, err := oneFunc(t, tin, f).Call("axpb",
		Value{Type: i64, Int: 3}, Value{Type: i64, Int: 5})
	if err != nil {
		t.Fatal(err)
	}
	if got.Int != 22 {
		t.Fatalf("3*5+7 = %d, want 22", got.Int)
	}
}

func TestCall_NarrowWidthWraps(t *testing.T) {
	tin := types.NewInterner()
	i8 := tin.Builtins().I8

	f := kir.NewFunc("bump", i8)
	x := f.AddParam(i8)
	entry := f.Entry()
	r := bin(f, entry, kir.OpAdd, i8, x, kir.IntConst(i8, 1))
	f.SetTerm(entry, retVal(r))

	got, err := oneFunc(t, tin, f).Call("bump", Value{Type: i8, Int: 127})
	if err != nil {
		t.Fatal(err)
	}
	if got.Int != -128 {
		t.Fatalf("127+1 at 8 bits = %d, want -128", got.Int)
	}
}

func TestCall_DivisionByZeroTraps(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("div", i64)
	a := f.AddParam(i64)
	b := f.AddParam(i64)
	entry := f.Entry()
	r := bin(f, entry, kir.OpDiv, i64, a, b)
	f.SetTerm(entry, retVal(r))

	mc := oneFunc(t, tin, f)
	if _, err := mc.Call("div", Value{Type: i64, Int: 10}, Value{Type: i64, Int: 0}); !errors.Is(err, ErrTrap) {
		t.Fatalf("got %v, want a trap", err)
	}
	got, err := mc.Call("div", Value{Type: i64, Int: 10}, Value{Type: i64, Int: 3})
	if err != nil || got.Int != 3 {
		t.Fatalf("10/3 = %d (%v), want 3", got.Int, err)
	}
}

func TestCall_UnreachableTraps(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("boom", i64)
	f.SetTerm(f.Entry(), kir.Terminator{Kind: kir.TermUnreachable})

	if _, err := oneFunc(t, tin, f).Call("boom"); !errors.Is(err, ErrTrap) {
		t.Fatalf("got %v, want a trap", err)
	}
}

func TestCall_InfiniteLoopRunsOutOfFuel(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("spin", i64)
	entry := f.Entry()
	spin := f.AddBlock()
	f.SetTerm(entry, kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: spin.ID}})
	f.SetTerm(spin, kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: spin.ID}})

	if _, err := oneFunc(t, tin, f).Call("spin"); !errors.Is(err, ErrFuel) {
		t.Fatalf("got %v, want fuel exhaustion", err)
	}
}

func TestCall_PhiReadsInParallel(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	boolT := tin.Builtins().Bool

	// swap(a, b) loops once through a header whose two phis exchange their
	// values on the back edge; sequential phi writes would lose one.
	f := kir.NewFunc("swapsum", i64)
	a := f.AddParam(i64)
	b := f.AddParam(i64)
	entry := f.Entry()
	header := f.AddBlock()
	latch := f.AddBlock()
	exit := f.AddBlock()

	xPhi := f.NewReg(i64)
	yPhi := f.NewReg(i64)
	nPhi := f.NewReg(i64)

	f.SetTerm(entry, kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: header.ID}})

	header.Append(kir.Instr{
		Op: kir.OpPhi, Result: xPhi, Type: i64,
		Args:  []kir.Value{a, yPhi},
		Preds: []kir.BlockID{entry.ID, latch.ID},
	})
	header.Append(kir.Instr{
		Op: kir.OpPhi, Result: yPhi, Type: i64,
		Args:  []kir.Value{b, xPhi},
		Preds: []kir.BlockID{entry.ID, latch.ID},
	})
	nNext := f.NewReg(i64)
	header.Append(kir.Instr{
		Op: kir.OpPhi, Result: nPhi, Type: i64,
		Args:  []kir.Value{kir.IntConst(i64, 0), nNext},
		Preds: []kir.BlockID{entry.ID, latch.ID},
	})
	cond := f.NewReg(boolT)
	header.Append(kir.Instr{Op: kir.OpLt, Result: cond, Type: boolT, Args: []kir.Value{nPhi, kir.IntConst(i64, 1)}})
	f.SetTerm(header, kir.Terminator{Kind: kir.TermJumpIf, JumpIf: kir.JumpIfTerm{
		Cond: cond, Then: latch.ID, Else: exit.ID,
	}})

	latch.Append(kir.Instr{Op: kir.OpAdd, Result: nNext, Type: i64, Args: []kir.Value{nPhi, kir.IntConst(i64, 1)}})
	f.SetTerm(latch, kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: header.ID}})

	// After one swap x holds b; return x - y = b - a.
	diff := f.NewReg(i64)
	exit.Append(kir.Instr{Op: kir.OpSub, Result: diff, Type: i64, Args: []kir.Value{xPhi, yPhi}})
	f.SetTerm(exit, retVal(diff))

	got, err := oneFunc(t, tin, f).Call("swapsum",
		Value{Type: i64, Int: 10}, Value{Type: i64, Int: 4})
	if err != nil {
		t.Fatal(err)
	}
	if got.Int != -6 {
		t.Fatalf("after one swap x-y = %d, want 4-10 = -6", got.Int)
	}
}

func TestCall_MemoryCells(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	ptrI64 := tin.Ptr(i64)

	f := kir.NewFunc("cell", i64)
	x := f.AddParam(i64)
	entry := f.Entry()
	slot := f.NewReg(ptrI64)
	entry.Append(kir.Instr{Op: kir.OpAlloca, Result: slot, Type: i64})
	entry.Append(kir.Instr{Op: kir.OpStore, Type: i64, Args: []kir.Value{slot, x}})
	old := f.NewReg(i64)
	entry.Append(kir.Instr{Op: kir.OpAtomicAdd, Result: old, Type: i64, Args: []kir.Value{slot, kir.IntConst(i64, 5)}})
	now := f.NewReg(i64)
	entry.Append(kir.Instr{Op: kir.OpLoad, Result: now, Type: i64, Args: []kir.Value{slot}})
	sum := bin(f, entry, kir.OpAdd, i64, old, now)
	f.SetTerm(entry, retVal(sum))

	got, err := oneFunc(t, tin, f).Call("cell", Value{Type: i64, Int: 2})
	if err != nil {
		t.Fatal(err)
	}
	// old = 2, cell becomes 7, 2+7 = 9
	if got.Int != 9 {
		t.Fatalf("cell(2) = %d, want 9", got.Int)
	}
}

func TestCall_RecursionAndGlobals(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	boolT := tin.Builtins().Bool
	ptrI64 := tin.Ptr(i64)

	m := kir.NewModule("t")
	if err := m.AddGlobal(kir.Global{Name: "base", Type: i64, Init: kir.IntConst(i64, 1)}); err != nil {
		t.Fatal(err)
	}

	// fact(n) = n <= 1 ? load base : n * fact(n-1)
	f := kir.NewFunc("fact", i64)
	n := f.AddParam(i64)
	entry := f.Entry()
	rec := f.AddBlock()
	done := f.AddBlock()

	c := f.NewReg(boolT)
	entry.Append(kir.Instr{Op: kir.OpLe, Result: c, Type: boolT, Args: []kir.Value{n, kir.IntConst(i64, 1)}})
	f.SetTerm(entry, kir.Terminator{Kind: kir.TermJumpIf, JumpIf: kir.JumpIfTerm{
		Cond: c, Then: done.ID, Else: rec.ID,
	}})

	nm1 := bin(f, rec, kir.OpSub, i64, n, kir.IntConst(i64, 1))
	sub := f.NewReg(i64)
	rec.Append(kir.Instr{Op: kir.OpCall, Result: sub, Type: i64, Callee: "fact", Args: []kir.Value{nm1}})
	prod := bin(f, rec, kir.OpMul, i64, n, sub)
	f.SetTerm(rec, retVal(prod))

	base := f.NewReg(i64)
	done.Append(kir.Instr{Op: kir.OpLoad, Result: base, Type: i64, Args: []kir.Value{kir.GlobalRef(ptrI64, "base")}})
	f.SetTerm(done, retVal(base))

	if err := m.AddFunc(f); err != nil {
		t.Fatal(err)
	}
	if err := kir.Verify(m, tin); err != nil {
		t.Fatal(err)
	}

	got, err := New(m, tin).Call("fact", Value{Type: i64, Int: 5})
	if err != nil {
		t.Fatal(err)
	}
	if got.Int != 120 {
		t.Fatalf("fact(5) = %d, want 120", got.Int)
	}
}
