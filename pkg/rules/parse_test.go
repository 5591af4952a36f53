package rules

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

func parseString(t *testing.T, input string) *Set {
	t.Helper()
	s := NewSet(nameTable{})
	if err := Parse(strings.NewReader(input), s); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return s
}

func TestParseSections(t *testing.T) {
	s := parseString(t, `
[allow]
Keyboard -> Synth

[disallow]
Loopback -> *
`)
	if got := s.Rules(Allow); len(got) != 1 || got[0] != (Rule{"Keyboard", "Synth"}) {
		t.Errorf("allow rules = %v, want [{Keyboard Synth}]", got)
	}
	if got := s.Rules(Disallow); len(got) != 1 || got[0] != (Rule{"Loopback", "*"}) {
		t.Errorf("disallow rules = %v, want [{Loopback *}]", got)
	}
}

func TestParseArrows(t *testing.T) {
	t.Run("Reverse", func(t *testing.T) {
		s := parseString(t, "[allow]\nSynth <- Keyboard\n")
		if got := s.Rules(Allow); len(got) != 1 || got[0] != (Rule{"Keyboard", "Synth"}) {
			t.Errorf("rules = %v, want [{Keyboard Synth}]", got)
		}
	})

	t.Run("Both", func(t *testing.T) {
		s := parseString(t, "[allow]\nA <-> B\n")
		got := s.Rules(Allow)
		if len(got) != 2 || got[0] != (Rule{"A", "B"}) || got[1] != (Rule{"B", "A"}) {
			t.Errorf("rules = %v, want [{A B} {B A}]", got)
		}
	})

	t.Run("BothSameSides", func(t *testing.T) {
		s := parseString(t, "[allow]\n* <-> *\n")
		got := s.Rules(Allow)
		if len(got) != 1 || got[0] != (Rule{"*", "*"}) {
			t.Errorf("rules = %v, want the single rule {* *}", got)
		}
	})

	t.Run("NoArrow", func(t *testing.T) {
		s := parseString(t, "[allow]\njust some words\n")
		if s.HasRules() {
			t.Errorf("rules = %v, want none", s.Rules(Allow))
		}
	})
}

func TestParseComments(t *testing.T) {
	s := parseString(t, `
# full-line comment
[allow]  # trailing comment on a section
Keyboard -> Synth # trailing comment on a rule

#[disallow]
`)
	if got := s.Rules(Allow); len(got) != 1 || got[0] != (Rule{"Keyboard", "Synth"}) {
		t.Errorf("allow rules = %v, want [{Keyboard Synth}]", got)
	}
	if got := s.Rules(Disallow); len(got) != 0 {
		t.Errorf("disallow rules = %v, want none", got)
	}
}

func TestParsePatternsWithSpaces(t *testing.T) {
	s := parseString(t, "[allow]\nTouchOSC Bridge -> Pure Data\n")
	if got := s.Rules(Allow); len(got) != 1 || got[0] != (Rule{"TouchOSC Bridge", "Pure Data"}) {
		t.Errorf("rules = %v, want [{TouchOSC Bridge Pure Data}]", got)
	}
}

func TestParseUnknownSection(t *testing.T) {
	s := parseString(t, `
[allow]
A -> B
[experimental]
C -> D
[disallow]
E -> F
`)
	if got := s.Rules(Allow); len(got) != 1 || got[0] != (Rule{"A", "B"}) {
		t.Errorf("allow rules = %v, want [{A B}]", got)
	}
	if got := s.Rules(Disallow); len(got) != 1 || got[0] != (Rule{"E", "F"}) {
		t.Errorf("disallow rules = %v, want [{E F}]", got)
	}
}

func TestParseRuleBeforeSection(t *testing.T) {
	s := parseString(t, "A -> B\n[allow]\nC -> D\n")
	if got := s.Rules(Allow); len(got) != 1 || got[0] != (Rule{"C", "D"}) {
		t.Errorf("allow rules = %v, want [{C D}]", got)
	}
}

func TestParseInvalidPatternSkipped(t *testing.T) {
	s := parseString(t, "[allow]\nFoo*Bar -> X\nA -> B\n")
	if got := s.Rules(Allow); len(got) != 1 || got[0] != (Rule{"A", "B"}) {
		t.Errorf("allow rules = %v, want [{A B}]", got)
	}
}

func TestParseEmptyInput(t *testing.T) {
	s := parseString(t, "")
	if s.HasRules() {
		t.Error("HasRules() = true for empty input")
	}
}

func TestParseFileMissing(t *testing.T) {
	s := NewSet(nameTable{})
	err := ParseFile(filepath.Join(t.TempDir(), "absent.rules"), s)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ParseFile() error = %v, want fs.ErrNotExist", err)
	}
}
