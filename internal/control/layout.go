package control

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	kerrors "wasmkernel/internal/errors"
)

// Widget is one inline panel in a saved dashboard layout.
type Widget struct {
	ID      string         `yaml:"id" json:"id"`
	Kind    string         `yaml:"kind" json:"kind"`
	Title   string         `yaml:"title" json:"title"`
	PluginID string        `yaml:"plugin_id,omitempty" json:"plugin_id,omitempty"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// Layout is a named arrangement of widgets a front-end consumer saved.
type Layout struct {
	Name    string   `yaml:"name" json:"name"`
	Widgets []Widget `yaml:"widgets" json:"widgets"`
}

// LayoutStore persists dashboard layouts as one YAML file per layout under
// dir. It has no in-memory cache: every call round-trips through disk so
// concurrent control-plane clients always see each other's writes.
type LayoutStore struct {
	dir string
}

// NewLayoutStore returns a store rooted at dir, creating it if necessary.
func NewLayoutStore(dir string) (*LayoutStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kerrors.Wrap(CodeBadRequest, err, "create layout directory")
	}
	return &LayoutStore{dir: dir}, nil
}

func (s *LayoutStore) pathFor(name string) string {
	return filepath.Join(s.dir, sanitizeLayoutName(name)+".yaml")
}

func sanitizeLayoutName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	return strings.ReplaceAll(name, "..", "_")
}

// Save writes layout to disk, overwriting any existing layout of the same
// name.
func (s *LayoutStore) Save(layout Layout) error {
	if layout.Name == "" {
		return kerrors.New(CodeBadRequest, "layout name is required")
	}
	raw, err := yaml.Marshal(layout)
	if err != nil {
		return kerrors.Wrap(CodeBadRequest, err, "encode layout")
	}
	if err := os.WriteFile(s.pathFor(layout.Name), raw, 0o644); err != nil {
		return kerrors.Wrap(CodeBadRequest, err, "write layout file")
	}
	return nil
}

// Apply loads a previously saved layout by name.
func (s *LayoutStore) Apply(name string) (Layout, error) {
	raw, err := os.ReadFile(s.pathFor(name))
	if err != nil {
		return Layout{}, kerrors.Wrap(CodeLayoutNotFound, err, fmt.Sprintf("layout %s", name))
	}
	var layout Layout
	if err := yaml.Unmarshal(raw, &layout); err != nil {
		return Layout{}, kerrors.Wrap(CodeBadRequest, err, "decode layout")
	}
	return layout, nil
}

// List returns the names of every saved layout, sorted.
func (s *LayoutStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, kerrors.Wrap(CodeBadRequest, err, "list layouts")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// AddWidget appends a widget to an existing layout, or starts a new one.
func (s *LayoutStore) AddWidget(layoutName string, widget Widget) (Layout, error) {
	layout, err := s.Apply(layoutName)
	if err != nil && kerrors.CodeOf(err) != CodeLayoutNotFound {
		return Layout{}, err
	}
	layout.Name = layoutName
	layout.Widgets = append(layout.Widgets, widget)
	if err := s.Save(layout); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

// RemoveWidget deletes the widget with the given id from layoutName.
func (s *LayoutStore) RemoveWidget(layoutName, widgetID string) (Layout, error) {
	layout, err := s.Apply(layoutName)
	if err != nil {
		return Layout{}, err
	}
	kept := layout.Widgets[:0]
	for _, w := range layout.Widgets {
		if w.ID != widgetID {
			kept = append(kept, w)
		}
	}
	layout.Widgets = kept
	if err := s.Save(layout); err != nil {
		return Layout{}, err
	}
	return layout, nil
}
