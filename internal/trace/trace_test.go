package trace

import (
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"off":   LevelOff,
		"phase": LevelPhase,
		"pass":  LevelPass,
		"debug": LevelDebug,
	} {
		got, err := ParseLevel(s)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("invalid level accepted")
	}
}

func TestWriter_FiltersByLevel(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, LevelPhase)

	w.Emit(LevelPhase, "kept %d", 1)
	w.Emit(LevelPass, "dropped")
	w.Emit(LevelDebug, "dropped")

	out := sb.String()
	if !strings.Contains(out, "kept 1") {
		t.Errorf("phase event missing:\n%s", out)
	}
	if strings.Contains(out, "dropped") {
		t.Errorf("filtered event leaked:\n%s", out)
	}
	if !w.Enabled(LevelPhase) || w.Enabled(LevelPass) {
		t.Error("Enabled disagrees with the configured level")
	}
}

func TestNop(t *testing.T) {
	if Nop.Enabled(LevelDebug) || Nop.Level() != LevelOff {
		t.Error("Nop tracer must stay off")
	}
	Nop.Emit(LevelPhase, "ignored")
}
