// Package target describes the physical machine the mid end compiles for:
// register files per class, the calling convention, and stack layout.
// Descriptions are loaded from TOML files so adding a target needs no code
// change; a built-in reference target backs tests and defaults.
package target

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"knull/internal/types"
)

// RegFile is one register class: the allocatable names plus a scratch
// register the allocator never hands out. Spilled values travel through
// the scratch on their way to and from the frame.
type RegFile struct {
	Registers []string `toml:"registers"`
	Scratch   string   `toml:"scratch"`
}

// ABI is the calling convention.
type ABI struct {
	IntArgs    []string `toml:"int_args"`
	FloatArgs  []string `toml:"float_args"`
	IntResult  string   `toml:"int_result"`
	FloatRet   string   `toml:"float_result"`
	StackAlign int      `toml:"stack_align"`
}

// Spec is a complete target description.
type Spec struct {
	Name     string  `toml:"name"`
	PtrWidth int     `toml:"ptr_width"`
	Int      RegFile `toml:"int"`
	Float    RegFile `toml:"float"`
	ABI      ABI     `toml:"abi"`
}

var (
	// ErrNoName indicates a target file without [name].
	ErrNoName = errors.New("missing target name")
	// ErrNoRegisters indicates an empty register class.
	ErrNoRegisters = errors.New("register class has no allocatable registers")
	// ErrBadScratch indicates a scratch register also listed as allocatable.
	ErrBadScratch = errors.New("scratch register is also allocatable")
)

// Load parses a target description file.
func Load(path string) (*Spec, error) {
	var s Spec
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the description for internal consistency.
func (s *Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, ErrNoName)
	}
	for _, f := range []struct {
		class string
		file  RegFile
	}{{"int", s.Int}, {"float", s.Float}} {
		if len(f.file.Registers) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", f.class, ErrNoRegisters))
		}
		for _, r := range f.file.Registers {
			if r == f.file.Scratch {
				errs = append(errs, fmt.Errorf("%s: %w: %s", f.class, ErrBadScratch, r))
			}
		}
	}
	if s.PtrWidth == 0 {
		s.PtrWidth = 64
	}
	if s.ABI.StackAlign == 0 {
		s.ABI.StackAlign = 16
	}
	return errors.Join(errs...)
}

// File returns the register file for a class, nil for ClassNone.
func (s *Spec) File(c types.RegClass) *RegFile {
	switch c {
	case types.ClassInt:
		return &s.Int
	case types.ClassFloat:
		return &s.Float
	}
	return nil
}

// RegName resolves an allocated register index within a class.
func (s *Spec) RegName(c types.RegClass, idx int) string {
	f := s.File(c)
	if f == nil || idx < 0 || idx >= len(f.Registers) {
		return fmt.Sprintf("?%s%d", c, idx)
	}
	return f.Registers[idx]
}

// Reference returns the built-in reference target: a regular RISC-flavored
// machine with eight registers per class. Tests narrow the register files
// to force spills.
func Reference() *Spec {
	return &Spec{
		Name:     "ref64",
		PtrWidth: 64,
		Int: RegFile{
			Registers: []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7"},
			Scratch:   "r8",
		},
		Float: RegFile{
			Registers: []string{"f0", "f1", "f2", "f3", "f4", "f5", "f6", "f7"},
			Scratch:   "f8",
		},
		ABI: ABI{
			IntArgs:    []string{"r0", "r1", "r2", "r3"},
			FloatArgs:  []string{"f0", "f1", "f2", "f3"},
			IntResult:  "r0",
			FloatRet:   "f0",
			StackAlign: 16,
		},
	}
}
