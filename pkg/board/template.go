package board

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// DefaultTemplate seeds the board created with every workspace
const DefaultTemplate = "default"

// Template is a named list of columns a new board starts with
type Template struct {
	Key     string   `yaml:"-" json:"key"`
	Name    string   `yaml:"name" json:"name"`
	Type    string   `yaml:"type" json:"type"`
	Columns []string `yaml:"columns" json:"columns"`
}

// LoadTemplate reads templates/<key>.yaml
func LoadTemplate(key string) (*Template, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		key = DefaultTemplate
	}
	if strings.ContainsAny(key, `/\.`) {
		return nil, fmt.Errorf("invalid template name %q", key)
	}
	data, err := templateFS.ReadFile(path.Join("templates", key+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown board template %q", key)
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse board template %q: %w", key, err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("board template %q has no columns", key)
	}
	if t.Type == "" {
		t.Type = "pipeline"
	}
	t.Key = key
	return &t, nil
}

// TemplateKeys lists the embedded templates
func TemplateKeys() []string {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			keys = append(keys, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(keys)
	return keys
}
