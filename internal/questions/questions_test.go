package questions

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	got := Normalize([]string{"  Do you drive?  ", "", "   ", "Do you smoke? Please answer yes or no."})
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %v", got)
	}
	if got[0] != "Do you drive?" || got[1] != "Do you smoke?" {
		t.Fatalf("unexpected questions: %v", got)
	}
}

func TestRenderContext(t *testing.T) {
	text := RenderContext([]string{"Do you drive?", "Do you smoke?"})
	if !strings.HasPrefix(text, "You are conducting a survey call.") {
		t.Fatalf("expected preamble: %q", text)
	}
	if !strings.Contains(text, "Question 1: Do you drive?\nQuestion 2: Do you smoke?\n") {
		t.Fatalf("expected numbered questions: %q", text)
	}
}

func TestParsePresets(t *testing.T) {
	raw := []byte(`
question_sets:
  - name: intake
    description: new patient intake
    questions:
      - Do you have insurance?
      - Are you on medication? yes or no
  - name: followup
    questions:
      - Did the treatment help?
`)
	p, err := ParsePresets(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err := p.Get("intake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(s.Questions) != 2 || s.Questions[1] != "Are you on medication?" {
		t.Fatalf("unexpected questions: %v", s.Questions)
	}
	if list := p.List(); len(list) != 2 || list[0].Name != "followup" {
		t.Fatalf("expected sorted list, got %+v", list)
	}
	if _, err := p.Get("missing"); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("expected ErrPresetNotFound, got %v", err)
	}
}

func TestParsePresets_RejectsEmptySet(t *testing.T) {
	raw := []byte("question_sets:\n  - name: empty\n    questions: []\n")
	if _, err := ParsePresets(raw); err == nil {
		t.Fatalf("expected error for empty question set")
	}
}

func TestLoadPresets_EmptyPath(t *testing.T) {
	p, err := LoadPresets("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(p.List()) != 0 {
		t.Fatalf("expected no presets")
	}
}
