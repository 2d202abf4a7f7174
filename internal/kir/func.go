package kir

import (
	"knull/internal/source"
	"knull/internal/types"
)

// Func owns an ordered block sequence (entry is Blocks[0]), a signature
// and the function's virtual-register counter. The counter is owned
// exclusively by whichever pass (or the builder) currently transforms the
// function; it is never shared between goroutines.
type Func struct {
	Name   string
	Params []Value // ValReg values, one per parameter
	Result types.TypeID
	Blocks []*Block

	// Inline is the front end's inline marker; it bypasses the inliner's
	// size threshold.
	Inline bool

	Span    source.Span
	nextReg RegID
}

// NewFunc creates a function with an empty entry block.
func NewFunc(name string, result types.TypeID) *Func {
	f := &Func{Name: name, Result: result}
	f.AddBlock()
	return f
}

// Entry returns the entry block.
func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Block returns the block with the given id, nil when out of range.
func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// AddBlock appends a fresh unterminated block and returns it.
func (f *Func) AddBlock() *Block {
	b := &Block{ID: BlockID(len(f.Blocks))} //nolint:gosec // G115: block counts are small
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewReg allocates a fresh virtual register of the given type.
func (f *Func) NewReg(ty types.TypeID) Value {
	id := f.nextReg
	f.nextReg++
	return RegValue(ty, id)
}

// RegCount returns the number of virtual registers allocated so far.
func (f *Func) RegCount() int {
	return int(f.nextReg)
}

// AddParam appends a parameter register to the signature.
func (f *Func) AddParam(ty types.TypeID) Value {
	v := f.NewReg(ty)
	f.Params = append(f.Params, v)
	return v
}

// SetTerm installs a block's terminator and records the reverse edges.
// Predecessor lists are appended in terminator-successor order, which
// fixes the deterministic phi operand order for mem2reg.
func (f *Func) SetTerm(b *Block, t Terminator) {
	b.Term = t
	t.Successors(func(s BlockID) {
		if tb := f.Block(s); tb != nil {
			tb.addPred(b.ID)
		}
	})
}

// RecomputePreds rebuilds every predecessor list from the terminators,
// in block order. Used by passes that rewrite the CFG wholesale.
func (f *Func) RecomputePreds() {
	for _, b := range f.Blocks {
		b.Preds = b.Preds[:0]
	}
	for _, b := range f.Blocks {
		b.Term.Successors(func(s BlockID) {
			if tb := f.Block(s); tb != nil {
				tb.addPred(b.ID)
			}
		})
	}
}

// InstrCount returns the total instruction count, terminators excluded.
// The inliner uses it as its size measure.
func (f *Func) InstrCount() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instrs)
	}
	return n
}

// ForEachInstr visits every instruction in block order.
func (f *Func) ForEachInstr(fn func(b *Block, idx int, in *Instr)) {
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			fn(b, i, &b.Instrs[i])
		}
	}
}
