package opt

import (
	"testing"

	"knull/internal/kir"
	"knull/internal/types"
)

func TestDCE_RemovesDeadChains(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("dead", i64)
	x := f.AddParam(i64)
	entry := f.Entry()
	// t2 feeds only t3, t3 feeds nothing: both die, in cascade.
	t2 := bin(f, entry, kir.OpAdd, i64, x, kir.IntConst(i64, 1))
	bin(f, entry, kir.OpMul, i64, t2, t2)
	live := bin(f, entry, kir.OpSub, i64, x, kir.IntConst(i64, 1))
	f.SetTerm(entry, retVal(live))

	if !NewDCE().Run(f) {
		t.Fatal("dead chain not removed")
	}
	if len(entry.Instrs) != 1 {
		t.Fatalf("%d instructions survive, want 1", len(entry.Instrs))
	}
	if entry.Instrs[0].Op != kir.OpSub {
		t.Fatalf("surviving instruction is %s, want the live sub", entry.Instrs[0].Op)
	}
}

func TestDCE_KeepsSideEffects(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	ptrI64 := tin.Ptr(i64)

	f := kir.NewFunc("fx", tin.Builtins().Unit)
	p := f.AddParam(ptrI64)
	entry := f.Entry()
	entry.Append(kir.Instr{Op: kir.OpStore, Type: i64, Args: []kir.Value{p, kir.IntConst(i64, 1)}})
	// Call result unused, but the call may observe the store.
	r := f.NewReg(i64)
	entry.Append(kir.Instr{Op: kir.OpCall, Result: r, Type: i64, Callee: "extern"})
	old := f.NewReg(i64)
	entry.Append(kir.Instr{Op: kir.OpAtomicAdd, Result: old, Type: i64, Args: []kir.Value{p, kir.IntConst(i64, 1)}})
	f.SetTerm(entry, kir.Terminator{Kind: kir.TermRet})

	NewDCE().Run(f)
	if len(entry.Instrs) != 3 {
		t.Fatalf("%d instructions survive, want all 3 side-effecting ones", len(entry.Instrs))
	}
}

func TestDCE_Idempotent(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("idem", i64)
	x := f.AddParam(i64)
	entry := f.Entry()
	bin(f, entry, kir.OpAdd, i64, x, x)
	f.SetTerm(entry, retVal(x))

	if !NewDCE().Run(f) {
		t.Fatal("first run should remove the dead add")
	}
	if NewDCE().Run(f) {
		t.Fatal("second run on a clean function must be a no-op")
	}
}

func TestDCE_SweepsUnreachableBlocks(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := kir.NewFunc("u", i64)
	x := f.AddParam(i64)
	dead := f.AddBlock()
	f.SetTerm(f.Entry(), retVal(x))
	f.SetTerm(dead, retVal(kir.IntConst(i64, 0)))

	if !NewDCE().Run(f) {
		t.Fatal("unreachable block not swept")
	}
	if len(f.Blocks) != 1 {
		t.Fatalf("%d blocks survive, want 1", len(f.Blocks))
	}
}
