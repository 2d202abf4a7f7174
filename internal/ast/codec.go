package ast

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// wireMagic frames a serialized typed-AST module so a truncated or
// foreign file fails fast instead of decoding into garbage.
const wireMagic = "KAST1"

// EncodeModule writes a module in the wire format DecodeModule reads.
// Front ends in other processes use this to hand a typed AST across a
// pipe or file.
func EncodeModule(w io.Writer, m *Module) error {
	if m == nil {
		return fmt.Errorf("ast: nil module")
	}
	enc := msgpack.NewEncoder(w)
	if err := enc.EncodeString(wireMagic); err != nil {
		return fmt.Errorf("ast: encode header: %w", err)
	}
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("ast: encode module: %w", err)
	}
	return nil
}

// DecodeModule reads one serialized typed-AST module.
func DecodeModule(r io.Reader) (*Module, error) {
	dec := msgpack.NewDecoder(r)
	magic, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("ast: decode header: %w", err)
	}
	if magic != wireMagic {
		return nil, fmt.Errorf("ast: bad header %q (expected %q)", magic, wireMagic)
	}
	var m Module
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("ast: decode module: %w", err)
	}
	if err := checkModule(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// checkModule rejects structurally impossible wire data. Semantic checks
// (typing rules) belong to the front end and the IR verifier.
func checkModule(m *Module) error {
	typeOK := func(t TypeRef) bool {
		return t >= 0 && int(t) < len(m.Types)
	}
	for i := range m.Types {
		td := &m.Types[i]
		if td.Kind == TypePtr && !typeOK(td.Elem) {
			return fmt.Errorf("ast: type %d: dangling pointee %d", i, td.Elem)
		}
	}
	for _, f := range m.Funcs {
		if f == nil {
			return fmt.Errorf("ast: nil function entry")
		}
		if !typeOK(f.Result) {
			return fmt.Errorf("ast: %s: dangling result type %d", f.Name, f.Result)
		}
		for _, p := range f.Params {
			if p < 0 || int(p) >= len(f.Locals) {
				return fmt.Errorf("ast: %s: dangling param local %d", f.Name, p)
			}
		}
		for i := range f.Locals {
			if !typeOK(f.Locals[i].Type) {
				return fmt.Errorf("ast: %s: local %d: dangling type %d", f.Name, i, f.Locals[i].Type)
			}
		}
	}
	return nil
}
