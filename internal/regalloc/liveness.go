// Package regalloc maps virtual registers to physical registers with a
// linear-scan allocator over live intervals, spilling to frame slots when
// a register class runs out.
package regalloc

import (
	"sort"

	"knull/internal/kir"
	"knull/internal/types"
)

// Interval is the live range of one virtual register under a linear
// numbering of the function: every position where the register is defined,
// read, or live through a block falls inside [Start, End].
type Interval struct {
	Reg   kir.RegID
	Type  types.TypeID
	Class types.RegClass
	Start int
	End   int
}

// BuildIntervals numbers the function's instructions in block order and
// computes one interval per virtual register. Alloca results are not
// intervals: they denote frame addresses and are returned separately,
// mapping the register to its element type. Phi operands count as read at
// the end of the edge's predecessor. Block order need not follow control
// order (the lowerer places a loop's exit before body-internal blocks), so
// def/use positions alone understate ranges; per-block liveness widens each
// interval over every block the value is live in or out of.
func BuildIntervals(f *kir.Func, typesIn *types.Interner) ([]Interval, map[kir.RegID]types.TypeID) {
	n := len(f.Blocks)
	blockStart := make([]int, n)
	blockEnd := make([]int, n)
	pos := 0
	for i, b := range f.Blocks {
		blockStart[i] = pos
		pos += len(b.Instrs)
		blockEnd[i] = pos // the terminator's position
		pos++
	}

	frame := make(map[kir.RegID]types.TypeID)
	ivs := make(map[kir.RegID]*Interval)
	touch := func(v kir.Value, at int) {
		if v.Kind != kir.ValReg {
			return
		}
		if _, isFrame := frame[v.Reg]; isFrame {
			return
		}
		iv, ok := ivs[v.Reg]
		if !ok {
			if typesIn.Class(v.Type) == types.ClassNone {
				return
			}
			ivs[v.Reg] = &Interval{
				Reg: v.Reg, Type: v.Type, Class: typesIn.Class(v.Type),
				Start: at, End: at,
			}
			return
		}
		if at < iv.Start {
			iv.Start = at
		}
		if at > iv.End {
			iv.End = at
		}
	}

	// Frame registers must be known before any use is touched.
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if in := &b.Instrs[i]; in.Op == kir.OpAlloca {
				frame[in.Result.Reg] = in.Type
			}
		}
	}

	for _, p := range f.Params {
		touch(p, 0)
	}
	for bi, b := range f.Blocks {
		ipos := blockStart[bi]
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Op == kir.OpPhi {
				for ai, a := range in.Args {
					pred := in.Preds[ai]
					if int(pred) < n {
						touch(a, blockEnd[pred])
					}
				}
			} else if in.Op != kir.OpAlloca {
				for _, a := range in.Args {
					touch(a, ipos)
				}
			}
			if in.HasResult() && in.Op != kir.OpAlloca {
				touch(in.Result, ipos)
			}
			ipos++
		}
		b.Term.Uses(func(v kir.Value) {
			touch(v, blockEnd[bi])
		})
	}

	extendByLiveness(f, ivs, frame, blockStart, blockEnd)

	out := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		out = append(out, *iv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Reg < out[j].Reg
	})
	return out, frame
}

type regSet map[kir.RegID]struct{}

// extendByLiveness runs a backward liveness fixpoint over the CFG and
// widens each interval to cover every block its register is live through:
// the start of every live-in block, the terminator of every live-out block.
// This is what keeps a loop-carried value alive across blocks that follow
// its last textual use, whatever order the blocks were appended in.
func extendByLiveness(f *kir.Func, ivs map[kir.RegID]*Interval, frame map[kir.RegID]types.TypeID, blockStart, blockEnd []int) {
	n := len(f.Blocks)
	gen := make([]regSet, n)
	def := make([]regSet, n)
	// phiIn[s][p] lists the registers block s's phis read on the edge from
	// predecessor p; they are live out of p, not into s.
	phiIn := make([]map[kir.BlockID][]kir.RegID, n)

	for bi, b := range f.Blocks {
		g, d := regSet{}, regSet{}
		read := func(v kir.Value) {
			if v.Kind != kir.ValReg {
				return
			}
			if _, isFrame := frame[v.Reg]; isFrame {
				return
			}
			if _, defined := d[v.Reg]; !defined {
				g[v.Reg] = struct{}{}
			}
		}
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Op {
			case kir.OpPhi:
				for ai, a := range in.Args {
					if a.Kind != kir.ValReg {
						continue
					}
					if _, isFrame := frame[a.Reg]; isFrame {
						continue
					}
					if phiIn[bi] == nil {
						phiIn[bi] = map[kir.BlockID][]kir.RegID{}
					}
					pred := in.Preds[ai]
					phiIn[bi][pred] = append(phiIn[bi][pred], a.Reg)
				}
			case kir.OpAlloca:
			default:
				for _, a := range in.Args {
					read(a)
				}
			}
			if in.HasResult() && in.Op != kir.OpAlloca {
				d[in.Result.Reg] = struct{}{}
			}
		}
		b.Term.Uses(read)
		gen[bi], def[bi] = g, d
	}

	liveIn := make([]regSet, n)
	liveOut := make([]regSet, n)
	for i := range liveIn {
		liveIn[i], liveOut[i] = regSet{}, regSet{}
	}
	for changed := true; changed; {
		changed = false
		for bi := n - 1; bi >= 0; bi-- {
			out := liveOut[bi]
			f.Blocks[bi].Term.Successors(func(s kir.BlockID) {
				si := int(s)
				if si >= n {
					return
				}
				for r := range liveIn[si] {
					if _, ok := out[r]; !ok {
						out[r] = struct{}{}
						changed = true
					}
				}
				for _, r := range phiIn[si][f.Blocks[bi].ID] {
					if _, ok := out[r]; !ok {
						out[r] = struct{}{}
						changed = true
					}
				}
			})
			in := liveIn[bi]
			for r := range gen[bi] {
				if _, ok := in[r]; !ok {
					in[r] = struct{}{}
					changed = true
				}
			}
			for r := range out {
				if _, isDef := def[bi][r]; isDef {
					continue
				}
				if _, ok := in[r]; !ok {
					in[r] = struct{}{}
					changed = true
				}
			}
		}
	}

	widen := func(r kir.RegID, at int) {
		iv := ivs[r]
		if iv == nil {
			return
		}
		if at < iv.Start {
			iv.Start = at
		}
		if at > iv.End {
			iv.End = at
		}
	}
	for bi := range f.Blocks {
		for r := range liveIn[bi] {
			widen(r, blockStart[bi])
		}
		for r := range liveOut[bi] {
			widen(r, blockEnd[bi])
		}
	}
}
