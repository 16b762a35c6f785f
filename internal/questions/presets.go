package questions

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrPresetNotFound = errors.New("questions: preset not found")

// Preset is a named, reusable question set.
type Preset struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Questions   []string `yaml:"questions" json:"questions"`
}

type presetFile struct {
	QuestionSets []Preset `yaml:"question_sets"`
}

// Presets is an immutable lookup of question sets by name.
type Presets struct {
	byName map[string]Preset
}

// LoadPresets reads a YAML file of the form:
//
//	question_sets:
//	  - name: intake
//	    questions:
//	      - Do you have insurance?
//
// An empty path yields an empty set.
func LoadPresets(path string) (*Presets, error) {
	if strings.TrimSpace(path) == "" {
		return &Presets{byName: map[string]Preset{}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question sets: %w", err)
	}
	return ParsePresets(raw)
}

func ParsePresets(raw []byte) (*Presets, error) {
	var f presetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse question sets: %w", err)
	}
	p := &Presets{byName: make(map[string]Preset, len(f.QuestionSets))}
	for _, s := range f.QuestionSets {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, errors.New("parse question sets: name is required")
		}
		if _, dup := p.byName[name]; dup {
			return nil, fmt.Errorf("parse question sets: duplicate name %q", name)
		}
		s.Name = name
		s.Questions = Normalize(s.Questions)
		if len(s.Questions) == 0 {
			return nil, fmt.Errorf("parse question sets: %q has no questions", name)
		}
		p.byName[name] = s
	}
	return p, nil
}

func (p *Presets) Get(name string) (Preset, error) {
	s, ok := p.byName[strings.TrimSpace(name)]
	if !ok {
		return Preset{}, ErrPresetNotFound
	}
	return s, nil
}

// List returns presets sorted by name.
func (p *Presets) List() []Preset {
	out := make([]Preset, 0, len(p.byName))
	for _, s := range p.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
