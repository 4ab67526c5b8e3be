package roster

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"go.yaml.in/yaml/v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// PromptSet is the raw prompt text for one stage.
type PromptSet struct {
	System        string `yaml:"system"`
	Query         string `yaml:"query"`
	WithSearch    string `yaml:"with_search"`
	WithoutSearch string `yaml:"without_search"`
}

// compiledSet holds parsed templates; nil fields are absent.
type compiledSet struct {
	system        string
	query         *template.Template
	withSearch    *template.Template
	withoutSearch *template.Template
}

// Prompts is a parsed prompt catalogue keyed by stage name.
type Prompts struct {
	sets map[string]compiledSet
}

// PromptData is the template context for every prompt.
type PromptData struct {
	Team       string
	Season     string
	Strategy   string
	CapTarget  string
	Priorities string
	Search     string

	PlayerAnalysis    string
	CapAnalysis       string
	ChemistryAnalysis string
}

// DefaultPrompts parses the embedded catalogue.
func DefaultPrompts() (*Prompts, error) {
	return ParsePrompts(defaultPrompts)
}

// LoadPrompts reads the embedded catalogue and, if path is non-empty, overlays
// the stages defined in that YAML file.
func LoadPrompts(path string) (*Prompts, error) {
	p, err := DefaultPrompts()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	overlay, err := ParsePrompts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, set := range overlay.sets {
		p.sets[name] = set
	}
	return p, nil
}

// ParsePrompts parses a YAML catalogue.
func ParsePrompts(data []byte) (*Prompts, error) {
	var raw map[string]PromptSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}

	p := &Prompts{sets: make(map[string]compiledSet, len(raw))}
	for name, set := range raw {
		if strings.TrimSpace(set.WithoutSearch) == "" {
			return nil, fmt.Errorf("prompt %q: without_search is required", name)
		}
		cs := compiledSet{system: strings.TrimSpace(set.System)}
		var err error
		if cs.query, err = parseOptional(name+".query", set.Query); err != nil {
			return nil, err
		}
		if cs.withSearch, err = parseOptional(name+".with_search", set.WithSearch); err != nil {
			return nil, err
		}
		if cs.withoutSearch, err = parseOptional(name+".without_search", set.WithoutSearch); err != nil {
			return nil, err
		}
		p.sets[name] = cs
	}
	return p, nil
}

func parseOptional(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", name, err)
	}
	return t, nil
}

// Has reports whether the catalogue defines stage.
func (p *Prompts) Has(stage string) bool {
	_, ok := p.sets[stage]
	return ok
}

// System returns the system prompt for stage.
func (p *Prompts) System(stage string) string {
	return p.sets[stage].system
}

// Query renders the search query for stage. ok is false when the stage does not search.
func (p *Prompts) Query(stage string, data PromptData) (q string, ok bool, err error) {
	set, found := p.sets[stage]
	if !found || set.query == nil {
		return "", false, nil
	}
	q, err = execute(set.query, data)
	return q, err == nil, err
}

// User renders the user prompt for stage. The with-search variant is used when
// data.Search is non-empty and the stage defines one.
func (p *Prompts) User(stage string, data PromptData) (string, error) {
	set, found := p.sets[stage]
	if !found {
		return "", fmt.Errorf("no prompt for stage %q", stage)
	}
	t := set.withoutSearch
	if data.Search != "" && set.withSearch != nil {
		t = set.withSearch
	}
	return execute(t, data)
}

func execute(t *template.Template, data PromptData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}
