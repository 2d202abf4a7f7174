package ast

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// sampleModule builds `fn addone(x: i64) -> i64 { return x + 1 }`.
func sampleModule() *Module {
	const (
		tI64 TypeRef = iota
		tBool
	)
	return &Module{
		Name: "sample",
		Types: []TypeDef{
			{Kind: TypeInt, Width: 64},
			{Kind: TypeBool},
		},
		Globals: []Global{
			{Name: "limit", Type: tI64, Init: &Expr{Kind: ExprIntLit, Type: tI64, Int: 100}},
		},
		Funcs: []*Func{{
			Name:   "addone",
			Params: []LocalID{0},
			Result: tI64,
			Locals: []Local{{Name: "x", Type: tI64}},
			Body: []Stmt{{
				Kind: StmtReturn,
				Return: ReturnStmt{Value: &Expr{
					Kind: ExprBinary, Type: tI64, Op: OpAdd,
					Left:  &Expr{Kind: ExprLocal, Type: tI64, Local: 0},
					Right: &Expr{Kind: ExprIntLit, Type: tI64, Int: 1},
				}},
			}},
		}},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	want := sampleModule()

	var buf bytes.Buffer
	if err := EncodeModule(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeModule(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip changed the module:\n got %+v\nwant %+v", got, want)
	}
}

func TestEncodeModule_NilModule(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeModule(&buf, nil); err == nil {
		t.Fatal("nil module encoded")
	}
}

func TestDecodeModule_BadMagic(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeString("NOPE1"); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(sampleModule()); err != nil {
		t.Fatal(err)
	}

	_, err := DecodeModule(&buf)
	if err == nil || !strings.Contains(err.Error(), "bad header") {
		t.Fatalf("got %v, want a header error", err)
	}
}

func TestDecodeModule_Truncated(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeModule(&buf, sampleModule()); err != nil {
		t.Fatal(err)
	}
	cut := buf.Bytes()[:buf.Len()/2]
	if _, err := DecodeModule(bytes.NewReader(cut)); err == nil {
		t.Fatal("truncated stream decoded")
	}
}

func TestDecodeModule_RejectsDanglingTypes(t *testing.T) {
	m := sampleModule()
	m.Funcs[0].Result = TypeRef(99)

	var buf bytes.Buffer
	if err := EncodeModule(&buf, m); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeModule(&buf); err == nil {
		t.Fatal("dangling result type accepted")
	}
}

func TestDecodeModule_RejectsDanglingParam(t *testing.T) {
	m := sampleModule()
	m.Funcs[0].Params = []LocalID{5}

	var buf bytes.Buffer
	if err := EncodeModule(&buf, m); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeModule(&buf); err == nil {
		t.Fatal("param pointing past the locals accepted")
	}
}
