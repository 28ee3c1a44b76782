// Package formula enumerates installed formulae that declare a service.
package formula

import (
	"fmt"
	"sync"

	"github.com/plexsphere/plexsvc/internal/plist"
)

// Formula is an installed package that ships a service description template.
// It is immutable after construction; the config document is built lazily
// on first use and memoized.
type Formula struct {
	id       string
	name     string
	attrs    map[string]string
	template string

	once   sync.Once
	doc    plist.Document
	docErr error
}

// New creates a Formula. attrs supplies additional template accessors.
func New(id, name, template string, attrs map[string]string) *Formula {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Formula{id: id, name: name, attrs: copied, template: template}
}

// ID returns the stable identifier used to derive the unit name.
func (f *Formula) ID() string { return f.id }

// Name returns the human-readable formula name.
func (f *Formula) Name() string { return f.name }

// Lookup resolves a template accessor. The built-in accessors id and name
// take precedence over attributes of the same name.
func (f *Formula) Lookup(key string) (string, bool) {
	switch key {
	case "id":
		return f.id, true
	case "name":
		return f.name, true
	}
	v, ok := f.attrs[key]
	return v, ok
}

// ConfigDocument renders the template against the formula's accessors and
// decodes the result.
func (f *Formula) ConfigDocument() (plist.Document, error) {
	f.once.Do(func() {
		rendered := plist.RenderXML(f.template, f)
		f.doc, f.docErr = plist.Decode([]byte(rendered))
		if f.docErr != nil {
			f.docErr = fmt.Errorf("formula: %s: %w", f.name, f.docErr)
		}
	})
	return f.doc, f.docErr
}
