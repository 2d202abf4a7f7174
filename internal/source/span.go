package source

import "fmt"

// FileID uniquely identifies a source file in the front end's file set.
// The mid-end never opens files itself; ids and spans are carried through
// from the typed AST so diagnostics can point back at user code.
type FileID uint32

// NoFile marks a span with no source attribution (synthesized IR).
const NoFile FileID = 0

// Span is a half-open byte range [Start, End) in a source file.
type Span struct {
	File  FileID
	Start uint32
	End   uint32
}

// NoSpan is the zero span used for instructions with no source origin.
var NoSpan = Span{}

func (s Span) Empty() bool {
	return s.Start == s.End
}

func (s Span) Len() uint32 {
	return s.End - s.Start
}

func (s Span) Valid() bool {
	return s.File != NoFile || !s.Empty()
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d-%d", s.File, s.Start, s.End)
}

// Cover extends s to include other. Spans in different files are not
// merged; the receiver wins.
func (s Span) Cover(other Span) Span {
	if s.File != other.File {
		return s
	}
	if other.Start < s.Start {
		s.Start = other.Start
	}
	if other.End > s.End {
		s.End = other.End
	}
	return s
}
