package kir

import (
	"fmt"

	"knull/internal/source"
	"knull/internal/types"
)

// Global is a module-level symbol with an optional constant initializer.
type Global struct {
	Name string
	Type types.TypeID
	Init Value // ValConst or ValUndef
	Span source.Span
}

// Module owns an insertion-ordered set of functions plus module globals.
// Function names are unique within a module.
type Module struct {
	Name    string
	Funcs   []*Func
	Globals []Global

	funcIndex   map[string]int
	globalIndex map[string]int
}

func NewModule(name string) *Module {
	return &Module{
		Name:        name,
		funcIndex:   make(map[string]int),
		globalIndex: make(map[string]int),
	}
}

// AddFunc appends a function, enforcing name uniqueness.
func (m *Module) AddFunc(f *Func) error {
	if _, dup := m.funcIndex[f.Name]; dup {
		return fmt.Errorf("duplicate function %q", f.Name)
	}
	m.funcIndex[f.Name] = len(m.Funcs)
	m.Funcs = append(m.Funcs, f)
	return nil
}

// FuncByName returns the function with the given name, nil when absent.
func (m *Module) FuncByName(name string) *Func {
	idx, ok := m.funcIndex[name]
	if !ok {
		return nil
	}
	return m.Funcs[idx]
}

// AddGlobal appends a global, enforcing name uniqueness.
func (m *Module) AddGlobal(g Global) error {
	if _, dup := m.globalIndex[g.Name]; dup {
		return fmt.Errorf("duplicate global %q", g.Name)
	}
	m.globalIndex[g.Name] = len(m.Globals)
	m.Globals = append(m.Globals, g)
	return nil
}

// GlobalByName returns the global with the given name.
func (m *Module) GlobalByName(name string) (Global, bool) {
	idx, ok := m.globalIndex[name]
	if !ok {
		return Global{}, false
	}
	return m.Globals[idx], true
}
