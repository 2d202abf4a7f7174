// Package backend turns a compiled KIR module into textual output for a
// target. Two implementations exist: the direct emitter consumes the
// register-allocated module and prints reference assembly; the extern
// bridge walks the SSA module and prints an external-toolchain IR.
package backend

import (
	"fmt"

	"knull/internal/kir"
	"knull/internal/regalloc"
	"knull/internal/target"
	"knull/internal/types"
)

// Artifacts carries everything the pipeline produced besides the module
// itself.
type Artifacts struct {
	Types  *types.Interner
	Target *target.Spec

	// Allocs maps function name to its register allocation. The extern
	// bridge ignores it.
	Allocs map[string]*regalloc.Allocation
}

// Backend renders one output format.
type Backend interface {
	Name() string

	// NeedsAllocation reports whether Emit consumes Artifacts.Allocs. The
	// pipeline skips register allocation for backends that answer false,
	// so the module they see is still pure SSA without spill traffic.
	NeedsAllocation() bool

	Emit(m *kir.Module, art *Artifacts) (string, error)
}

// New returns the backend registered under name. The empty name selects
// the direct emitter.
func New(name string) (Backend, error) {
	switch name {
	case "direct", "":
		return &Direct{}, nil
	case "extern":
		return &Extern{}, nil
	}
	return nil, fmt.Errorf("backend: unknown backend %q", name)
}
