package regalloc

import (
	"fmt"
	"sort"

	"knull/internal/diag"
	"knull/internal/kir"
	"knull/internal/source"
	"knull/internal/target"
	"knull/internal/trace"
	"knull/internal/types"
)

// LocKind says where a value lives at run time.
type LocKind uint8

const (
	LocNone LocKind = iota
	// LocReg is a physical register, Index into the class's register file.
	LocReg
	// LocFrame is a stack frame slot; alloca results and spill slots.
	LocFrame
)

// Loc is one value's assigned location.
type Loc struct {
	Kind  LocKind
	Class types.RegClass
	Index int
}

func (l Loc) String() string {
	switch l.Kind {
	case LocReg:
		return fmt.Sprintf("%s:r%d", l.Class, l.Index)
	case LocFrame:
		return fmt.Sprintf("frame:%d", l.Index)
	}
	return "none"
}

// Allocation is the allocator's result for one function.
type Allocation struct {
	Locs map[kir.RegID]Loc

	// FrameSlots counts 8-byte frame slots: allocas plus spill slots.
	FrameSlots int

	// Spilled lists the virtual registers that were demoted to frame
	// slots, in the order the allocator gave up on them.
	Spilled []kir.RegID
}

// maxSpillRounds bounds the spill-and-rescan loop. Each round rewrites the
// function so spilled values live only briefly; a function still out of
// registers after this many rounds cannot be allocated for the target.
const maxSpillRounds = 8

// Allocate maps every virtual register of f to a location for the target.
// When a class runs out of registers, the live interval ending furthest
// away is spilled (ties keep the new interval, by raw end index), the
// function is rewritten with a frame slot, a store after the definition
// and a reload before each use, and the scan reruns. Allocate mutates f.
func Allocate(f *kir.Func, typesIn *types.Interner, tgt *target.Spec, tracer trace.Tracer) (*Allocation, error) {
	if tracer == nil {
		tracer = trace.Nop
	}
	alloc := &Allocation{}
	for round := 0; round < maxSpillRounds; round++ {
		intervals, frame := BuildIntervals(f, typesIn)
		alloc.Locs = make(map[kir.RegID]Loc, len(intervals)+len(frame))
		alloc.FrameSlots = 0
		assignFrame(f, frame, alloc)

		spills, err := scan(f, intervals, tgt, alloc)
		if err != nil {
			return nil, err
		}
		if len(spills) == 0 {
			return alloc, nil
		}
		for _, iv := range spills {
			tracer.Emit(trace.LevelDebug, "regalloc: %s spills %%%d [%d,%d]", f.Name, iv.Reg, iv.Start, iv.End)
			alloc.Spilled = append(alloc.Spilled, iv.Reg)
			rewriteSpill(f, typesIn, iv)
		}
	}
	return nil, diag.NewError(diag.AllocExhaustion, f.Name, source.NoSpan,
		fmt.Sprintf("register allocation did not converge after %d spill rounds", maxSpillRounds))
}

// assignFrame gives every alloca result a frame slot, in block order so
// slot numbering is deterministic.
func assignFrame(f *kir.Func, frame map[kir.RegID]types.TypeID, alloc *Allocation) {
	f.ForEachInstr(func(_ *kir.Block, _ int, in *kir.Instr) {
		if in.Op != kir.OpAlloca {
			return
		}
		if _, ok := frame[in.Result.Reg]; !ok {
			return
		}
		alloc.Locs[in.Result.Reg] = Loc{Kind: LocFrame, Index: alloc.FrameSlots}
		alloc.FrameSlots++
	})
}

// scan is one linear-scan sweep. It fills alloc.Locs for every interval it
// can place and returns the intervals chosen for spilling.
func scan(f *kir.Func, intervals []Interval, tgt *target.Spec, alloc *Allocation) ([]Interval, error) {
	type classState struct {
		free   []int
		active []Interval // sorted by End ascending
	}
	states := map[types.RegClass]*classState{}
	for _, c := range []types.RegClass{types.ClassInt, types.ClassFloat} {
		file := tgt.File(c)
		st := &classState{}
		for i := len(file.Registers) - 1; i >= 0; i-- {
			st.free = append(st.free, i)
		}
		states[c] = st
	}

	var spills []Interval
	for _, iv := range intervals {
		st := states[iv.Class]
		if st == nil {
			continue
		}
		if len(st.free) == 0 && len(st.active) == 0 {
			return nil, diag.NewError(diag.AllocExhaustion, f.Name, source.NoSpan,
				fmt.Sprintf("target %s has no %s registers", tgt.Name, iv.Class))
		}

		// Expire intervals that ended before this one starts.
		keep := st.active[:0]
		for _, a := range st.active {
			if a.End < iv.Start {
				st.free = append(st.free, alloc.Locs[a.Reg].Index)
				continue
			}
			keep = append(keep, a)
		}
		st.active = keep

		if len(st.free) > 0 {
			reg := st.free[len(st.free)-1]
			st.free = st.free[:len(st.free)-1]
			alloc.Locs[iv.Reg] = Loc{Kind: LocReg, Class: iv.Class, Index: reg}
			st.active = insertActive(st.active, iv)
			continue
		}

		// Out of registers: evict whichever interval ends furthest.
		furthest := st.active[len(st.active)-1]
		if furthest.End > iv.End {
			alloc.Locs[iv.Reg] = alloc.Locs[furthest.Reg]
			delete(alloc.Locs, furthest.Reg)
			st.active = insertActive(st.active[:len(st.active)-1], iv)
			spills = append(spills, furthest)
		} else {
			spills = append(spills, iv)
		}
	}
	return spills, nil
}

func insertActive(active []Interval, iv Interval) []Interval {
	i := sort.Search(len(active), func(k int) bool { return active[k].End > iv.End })
	active = append(active, Interval{})
	copy(active[i+1:], active[i:])
	active[i] = iv
	return active
}

// rewriteSpill demotes one virtual register to a frame slot: an alloca at
// the top of the entry block, a store right after the definition, and a
// fresh reload in front of every use. Phi operands reload at the end of
// the edge's predecessor.
func rewriteSpill(f *kir.Func, typesIn *types.Interner, iv Interval) {
	v := kir.RegValue(iv.Type, iv.Reg)
	slot := f.NewReg(typesIn.Ptr(iv.Type))
	entry := f.Entry()
	entry.Instrs = append([]kir.Instr{{
		Op:     kir.OpAlloca,
		Result: slot,
		Type:   iv.Type,
	}}, entry.Instrs...)

	load := func(b *kir.Block) kir.Value {
		fresh := f.NewReg(iv.Type)
		b.Append(kir.Instr{Op: kir.OpLoad, Result: fresh, Type: iv.Type, Args: []kir.Value{slot}})
		return fresh
	}
	store := func() kir.Instr {
		return kir.Instr{Op: kir.OpStore, Type: iv.Type, Args: []kir.Value{slot, v}}
	}

	// Phi operands first: the reload lands in the predecessor, appended
	// before its terminator. One reload serves every phi on that edge.
	edge := map[kir.BlockID]kir.Value{}
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Op != kir.OpPhi {
				break
			}
			for ai, a := range in.Args {
				if a != v {
					continue
				}
				pred := in.Preds[ai]
				fresh, ok := edge[pred]
				if !ok {
					fresh = load(f.Block(pred))
					edge[pred] = fresh
				}
				in.Args[ai] = fresh
			}
		}
	}

	for _, b := range f.Blocks {
		out := make([]kir.Instr, 0, len(b.Instrs)+2)
		pendingStore := false
		flush := func() {
			if pendingStore {
				out = append(out, store())
				pendingStore = false
			}
		}
		for i := range b.Instrs {
			in := b.Instrs[i]
			if in.Op != kir.OpPhi {
				flush()
				if instrReads(&in, v) {
					fresh := f.NewReg(iv.Type)
					out = append(out, kir.Instr{Op: kir.OpLoad, Result: fresh, Type: iv.Type, Args: []kir.Value{slot}})
					in.ReplaceUses(v, fresh)
				}
			}
			out = append(out, in)
			if in.Result == v {
				if in.Op == kir.OpPhi {
					pendingStore = true // stores may not interrupt the phi run
				} else {
					out = append(out, store())
				}
			}
		}
		flush()
		if termReads(&b.Term, v) {
			fresh := f.NewReg(iv.Type)
			out = append(out, kir.Instr{Op: kir.OpLoad, Result: fresh, Type: iv.Type, Args: []kir.Value{slot}})
			b.Term.ReplaceUses(v, fresh)
		}
		b.Instrs = out
	}

	// A spilled parameter is stored once on entry, after the alloca run.
	for _, p := range f.Params {
		if p == v {
			i := 0
			for i < len(entry.Instrs) && entry.Instrs[i].Op == kir.OpAlloca {
				i++
			}
			rest := append([]kir.Instr{store()}, entry.Instrs[i:]...)
			entry.Instrs = append(entry.Instrs[:i:i], rest...)
			break
		}
	}
}

func instrReads(in *kir.Instr, v kir.Value) bool {
	for _, a := range in.Args {
		if a == v {
			return true
		}
	}
	return false
}

func termReads(t *kir.Terminator, v kir.Value) bool {
	found := false
	t.Uses(func(u kir.Value) {
		if u == v {
			found = true
		}
	})
	return found
}
