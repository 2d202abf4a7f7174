package kir

import (
	"testing"

	"knull/internal/types"
)

func TestSimplifyCFG_ForwardingChain(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	// entry -> hop1 -> hop2 -> tail
	f := NewFunc("f", i64)
	x := f.AddParam(i64)
	hop1 := f.AddBlock()
	hop2 := f.AddBlock()
	tail := f.AddBlock()

	f.SetTerm(f.Entry(), jump(hop1.ID))
	f.SetTerm(hop1, jump(hop2.ID))
	f.SetTerm(hop2, jump(tail.ID))
	f.SetTerm(tail, retVal(x))

	if !SimplifyCFG(f) {
		t.Fatal("forwarding chain not simplified")
	}
	if len(f.Blocks) != 2 {
		t.Fatalf("got %d blocks, want entry + tail", len(f.Blocks))
	}
	if f.Entry().Term.Kind != TermJump || f.Entry().Term.Jump.Target != f.Blocks[1].ID {
		t.Error("entry does not jump straight to the tail")
	}

	m := NewModule("t")
	_ = m.AddFunc(f)
	if err := Verify(m, tin); err != nil {
		t.Fatalf("simplified function fails verification: %v", err)
	}
}

func TestSimplifyCFG_KeepsForwardingIntoPhis(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64
	boolT := tin.Builtins().Bool

	// Both diamond arms are empty forwarders, but the join has a phi whose
	// edges name them, so they must survive.
	f := NewFunc("f", i64)
	c := f.AddParam(boolT)
	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()

	f.SetTerm(f.Entry(), jumpIf(c, left.ID, right.ID))
	f.SetTerm(left, jump(join.ID))
	f.SetTerm(right, jump(join.ID))

	phi := f.NewReg(i64)
	join.Append(Instr{
		Op: OpPhi, Result: phi, Type: i64,
		Args:  []Value{IntConst(i64, 1), IntConst(i64, 2)},
		Preds: []BlockID{left.ID, right.ID},
	})
	f.SetTerm(join, retVal(phi))

	SimplifyCFG(f)
	if len(f.Blocks) != 4 {
		t.Fatalf("got %d blocks, want all 4 kept", len(f.Blocks))
	}

	m := NewModule("t")
	_ = m.AddFunc(f)
	if err := Verify(m, tin); err != nil {
		t.Fatalf("function fails verification after no-op simplify: %v", err)
	}
}

func TestSimplifyCFG_RemovesUnreachable(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := NewFunc("f", i64)
	x := f.AddParam(i64)
	dead := f.AddBlock()
	tail := f.AddBlock()

	f.SetTerm(f.Entry(), jump(tail.ID))
	dead.Append(Instr{Op: OpCall, Type: tin.Builtins().Unit, Callee: "never"})
	f.SetTerm(dead, jump(tail.ID))
	f.SetTerm(tail, retVal(x))

	if !SimplifyCFG(f) {
		t.Fatal("unreachable block not removed")
	}
	if len(f.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(f.Blocks))
	}
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if b.Instrs[i].Callee == "never" {
				t.Fatal("dead block survived")
			}
		}
	}
}

// TestSimplifyCFG_DropsDeadPhiEdges removes phi operands arriving from a
// block that became unreachable.
func TestSimplifyCFG_DropsDeadPhiEdges(t *testing.T) {
	tin := types.NewInterner()
	i64 := tin.Builtins().I64

	f := NewFunc("f", i64)
	dead := f.AddBlock()
	join := f.AddBlock()

	f.SetTerm(f.Entry(), jump(join.ID))
	f.SetTerm(dead, jump(join.ID))

	phi := f.NewReg(i64)
	join.Append(Instr{
		Op: OpPhi, Result: phi, Type: i64,
		Args:  []Value{IntConst(i64, 1), IntConst(i64, 9)},
		Preds: []BlockID{f.Entry().ID, dead.ID},
	})
	f.SetTerm(join, retVal(phi))

	if !SimplifyCFG(f) {
		t.Fatal("expected a change")
	}

	var got *Instr
	f.ForEachInstr(func(_ *Block, _ int, in *Instr) {
		if in.Op == OpPhi {
			got = in
		}
	})
	if got == nil {
		t.Fatal("phi vanished")
	}
	if len(got.Args) != 1 || got.Args[0].Int != 1 {
		t.Fatalf("phi operands = %v, want just the live edge", got.Args)
	}

	m := NewModule("t")
	_ = m.AddFunc(f)
	if err := Verify(m, tin); err != nil {
		t.Fatalf("fails verification: %v", err)
	}
}
