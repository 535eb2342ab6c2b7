// Package document is the template collaborator: it knows which ordered
// fields each document template carries, fills finalized values into a
// rendered blob, and bounds how long rendered outputs stay on disk.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrTemplateNotFound reports an unknown template identifier.
var ErrTemplateNotFound = errors.New("template not found")

// Template describes one fillable document. Fields is ordered: the
// collector pages through it in this exact order.
type Template struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Cost   int64    `json:"cost"`
	Fields []string `json:"fields"`
}

// Registry holds the known templates. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) error {
	if t.ID == "" {
		return fmt.Errorf("register template: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// LoadDir registers every *.json descriptor found in dir.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("load template %s: %w", entry.Name(), err)
		}
		var t Template
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}
		if t.ID == "" {
			t.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one template.
func (r *Registry) Get(templateID string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[templateID]
	if !ok {
		return Template{}, ErrTemplateNotFound
	}
	return t, nil
}

// FieldNames returns the template's ordered field list.
func (r *Registry) FieldNames(templateID string) ([]string, error) {
	t, err := r.Get(templateID)
	if err != nil {
		return nil, err
	}
	fields := make([]string, len(t.Fields))
	copy(fields, t.Fields)
	return fields, nil
}

// IDs returns the registered template identifiers, sorted. Used by the
// suggestion path, so it must stay cheap.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
