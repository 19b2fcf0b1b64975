package message

import (
	"github.com/pkg/errors"
)

// Registry maps message names and numeric ids to templates. It is
// immutable once constructed and safe for concurrent lookups.
type Registry struct {
	byName map[string]*Template
	byID   map[uint32]*Template
}

// NewRegistry builds a registry from the given templates. Duplicate names
// or ids are a programming error and fail construction.
func NewRegistry(templates ...*Template) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Template, len(templates)),
		byID:   make(map[uint32]*Template, len(templates)),
	}

	for _, tpl := range templates {
		if _, ok := r.byName[tpl.Name]; ok {
			return nil, errors.Errorf("duplicate template name %q", tpl.Name)
		}
		if dup, ok := r.byID[tpl.ID]; ok {
			return nil, errors.Errorf("templates %q and %q share id %d", dup.Name, tpl.Name, tpl.ID)
		}
		r.byName[tpl.Name] = tpl
		r.byID[tpl.ID] = tpl
	}

	return r, nil
}

// ByName returns the template registered under name.
func (r *Registry) ByName(name string) (*Template, bool) {
	tpl, ok := r.byName[name]
	return tpl, ok
}

// ByID returns the template registered under the numeric message id.
func (r *Registry) ByID(id uint32) (*Template, bool) {
	tpl, ok := r.byID[id]
	return tpl, ok
}

// Len reports the number of registered templates.
func (r *Registry) Len() int { return len(r.byName) }
