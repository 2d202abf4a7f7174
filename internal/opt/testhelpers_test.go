package opt

import (
	"testing"

	"knull/internal/kir"
	"knull/internal/types"
)

func retVal(v kir.Value) kir.Terminator {
	return kir.Terminator{Kind: kir.TermRet, Ret: kir.RetTerm{HasValue: true, Value: v}}
}

func jump(to kir.BlockID) kir.Terminator {
	return kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: to}}
}

func jumpIf(cond kir.Value, then, els kir.BlockID) kir.Terminator {
	return kir.Terminator{Kind: kir.TermJumpIf, JumpIf: kir.JumpIfTerm{Cond: cond, Then: then, Else: els}}
}

func bin(f *kir.Func, b *kir.Block, op kir.Op, ty types.TypeID, x, y kir.Value) kir.Value {
	r := f.NewReg(ty)
	b.Append(kir.Instr{Op: op, Result: r, Type: ty, Args: []kir.Value{x, y}})
	return r
}

func countOps(f *kir.Func, op kir.Op) int {
	n := 0
	f.ForEachInstr(func(_ *kir.Block, _ int, in *kir.Instr) {
		if in.Op == op {
			n++
		}
	})
	return n
}

func mustVerify(t *testing.T, m *kir.Module, tin *types.Interner) {
	t.Helper()
	if err := kir.Verify(m, tin); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
}

func moduleOf(t *testing.T, fs ...*kir.Func) *kir.Module {
	t.Helper()
	m := kir.NewModule("t")
	for _, f := range fs {
		if err := m.AddFunc(f); err != nil {
			t.Fatal(err)
		}
	}
	return m
}
