package diag

import (
	"strings"
	"testing"

	"knull/internal/source"
)

func TestSeverity_String(t *testing.T) {
	if SevWarning.String() != "warning" || SevError.String() != "error" {
		t.Errorf("severity strings: %s, %s", SevWarning, SevError)
	}
	d := NewError(VerifyMissingTerminator, "f", source.NoSpan, "no terminator")
	if msg := d.Error(); !strings.HasPrefix(msg, "error [K7102] f:") {
		t.Errorf("diagnostic rendering: %q", msg)
	}
}

func TestBag_CapacityLimit(t *testing.T) {
	b := NewBag(2)
	for i := 0; i < 3; i++ {
		ok := b.Add(NewError(VerifyMissingTerminator, "f", source.NoSpan, "x"))
		if want := i < 2; ok != want {
			t.Errorf("Add #%d = %v, want %v", i, ok, want)
		}
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d, want the cap 2", b.Len())
	}
}

func TestBag_HasErrors(t *testing.T) {
	b := NewBag(4)
	b.Add(New(SevWarning, PassRefusal, "f", source.NoSpan, "w"))
	if b.HasErrors() {
		t.Error("warning counted as an error")
	}
	b.Add(NewError(VerifyTypeMismatch, "f", source.NoSpan, "e"))
	if !b.HasErrors() {
		t.Error("error not seen")
	}
}

func TestBag_SortIsDeterministic(t *testing.T) {
	b := NewBag(8)
	b.Add(NewError(VerifyTypeMismatch, "zeta", source.NoSpan, "late"))
	b.Add(NewError(VerifyMissingTerminator, "alpha", source.Span{File: 1, Start: 20, End: 21}, "second"))
	b.Add(NewError(VerifyMissingTerminator, "alpha", source.Span{File: 1, Start: 5, End: 6}, "first"))
	b.Sort()

	got := b.Items()
	if got[0].Fn != "alpha" || got[0].Primary.Start != 5 {
		t.Errorf("first after sort: %+v", got[0])
	}
	if got[1].Primary.Start != 20 {
		t.Errorf("second after sort: %+v", got[1])
	}
	if got[2].Fn != "zeta" {
		t.Errorf("last after sort: %+v", got[2])
	}
}

func TestBag_Dedup(t *testing.T) {
	b := NewBag(8)
	d := NewError(VerifyMultipleDefs, "f", source.Span{File: 1, Start: 3, End: 4}, "dup")
	b.Add(d)
	b.Add(d)
	b.Add(NewError(VerifyMultipleDefs, "g", source.Span{File: 1, Start: 3, End: 4}, "other fn"))
	b.Dedup()
	if b.Len() != 2 {
		t.Errorf("Len after dedup = %d, want 2", b.Len())
	}
}

func TestBag_MergeGrows(t *testing.T) {
	a := NewBag(1)
	a.Add(NewError(VerifyMissingTerminator, "f", source.NoSpan, "x"))
	other := NewBag(2)
	other.Add(NewError(VerifyTypeMismatch, "g", source.NoSpan, "y"))
	other.Add(NewError(VerifyDanglingBlock, "h", source.NoSpan, "z"))

	a.Merge(other)
	if a.Len() != 3 {
		t.Errorf("Len after merge = %d, want 3", a.Len())
	}
	if int(a.Cap()) < 3 {
		t.Errorf("Cap after merge = %d, want at least 3", a.Cap())
	}
}
