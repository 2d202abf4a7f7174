package target

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"knull/internal/types"
)

func writeTarget(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FullDescription(t *testing.T) {
	path := writeTarget(t, `
name = "toy32"
ptr_width = 32

[int]
registers = ["a", "b", "c"]
scratch = "t"

[float]
registers = ["fa", "fb"]
scratch = "ft"

[abi]
int_args = ["a", "b"]
float_args = ["fa"]
int_result = "a"
float_result = "fa"
stack_align = 8
`)

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "toy32" || s.PtrWidth != 32 {
		t.Errorf("got %q/%d, want toy32/32", s.Name, s.PtrWidth)
	}
	if len(s.Int.Registers) != 3 || s.Int.Scratch != "t" {
		t.Errorf("int file parsed as %+v", s.Int)
	}
	if s.ABI.FloatRet != "fa" {
		t.Errorf("float result parsed as %q", s.ABI.FloatRet)
	}
	if s.ABI.StackAlign != 8 {
		t.Errorf("stack align parsed as %d", s.ABI.StackAlign)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTarget(t, `
name = "sparse"

[int]
registers = ["r0"]

[float]
registers = ["f0"]
`)

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.PtrWidth != 64 {
		t.Errorf("ptr width defaulted to %d, want 64", s.PtrWidth)
	}
	if s.ABI.StackAlign != 16 {
		t.Errorf("stack align defaulted to %d, want 16", s.ABI.StackAlign)
	}
}

func TestLoad_RejectsBadTOML(t *testing.T) {
	path := writeTarget(t, `name = [unclosed`)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed TOML accepted")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	s := &Spec{
		Int:   RegFile{Registers: []string{"r0", "r1"}, Scratch: "r1"},
		Float: RegFile{},
	}
	err := s.Validate()
	if err == nil {
		t.Fatal("invalid description accepted")
	}
	if !errors.Is(err, ErrNoName) {
		t.Error("missing name not reported")
	}
	if !errors.Is(err, ErrNoRegisters) {
		t.Error("empty float class not reported")
	}
	if !errors.Is(err, ErrBadScratch) {
		t.Error("allocatable scratch not reported")
	}
}

func TestReference_IsValid(t *testing.T) {
	if err := Reference().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestRegName(t *testing.T) {
	s := Reference()
	if got := s.RegName(types.ClassInt, 2); got != "r2" {
		t.Errorf("RegName(int, 2) = %q", got)
	}
	if got := s.RegName(types.ClassFloat, 0); got != "f0" {
		t.Errorf("RegName(float, 0) = %q", got)
	}
	if got := s.RegName(types.ClassInt, 99); got == "r99" {
		t.Error("out-of-range index resolved to a real name")
	}
}
