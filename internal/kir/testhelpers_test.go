package kir

import (
	"errors"
	"testing"

	"knull/internal/diag"
	"knull/internal/types"
)

func retVal(v Value) Terminator {
	return Terminator{Kind: TermRet, Ret: RetTerm{HasValue: true, Value: v}}
}

func jump(to BlockID) Terminator {
	return Terminator{Kind: TermJump, Jump: JumpTerm{Target: to}}
}

func jumpIf(cond Value, then, els BlockID) Terminator {
	return Terminator{Kind: TermJumpIf, JumpIf: JumpIfTerm{Cond: cond, Then: then, Else: els}}
}

// bin appends a binary instruction and returns its result register.
func bin(f *Func, b *Block, op Op, ty types.TypeID, a, c Value) Value {
	r := f.NewReg(ty)
	b.Append(Instr{Op: op, Result: r, Type: ty, Args: []Value{a, c}})
	return r
}

func wantCode(t *testing.T, err error, code diag.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected diagnostic %s, got nil", code)
	}
	var d diag.Diagnostic
	if !errors.As(err, &d) {
		t.Fatalf("expected diagnostic, got %v", err)
	}
	if d.Code != code {
		t.Fatalf("diagnostic code = %s, want %s (%v)", d.Code, code, err)
	}
}
