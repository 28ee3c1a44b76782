package formula

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Formulae []catalogEntry `yaml:"formulae"`
}

type catalogEntry struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
	Plist      string            `yaml:"plist"`
}

// Catalog is the ordered set of formulae that declare a service.
type Catalog struct {
	formulae []*Formula
	byName   map[string]*Formula
}

// NewCatalog builds a Catalog from formulae, rejecting duplicate names.
func NewCatalog(formulae []*Formula) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Formula, len(formulae))}
	for _, f := range formulae {
		if _, dup := c.byName[f.Name()]; dup {
			return nil, fmt.Errorf("formula: catalog: duplicate formula %q", f.Name())
		}
		c.byName[f.Name()] = f
		c.formulae = append(c.formulae, f)
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("formula: catalog: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("formula: catalog: parse: %w", err)
	}
	formulae := make([]*Formula, 0, len(file.Formulae))
	for i, e := range file.Formulae {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("formula: catalog: entry %d: name is required", i)
		}
		if e.ID == "" {
			e.ID = "homebrew." + e.Name
		}
		if strings.TrimSpace(e.Plist) == "" {
			return nil, fmt.Errorf("formula: catalog: %s: plist is required", e.Name)
		}
		formulae = append(formulae, New(e.ID, e.Name, e.Plist, e.Attributes))
	}
	return NewCatalog(formulae)
}

// All returns every formula in catalog order.
func (c *Catalog) All() []*Formula {
	out := make([]*Formula, len(c.formulae))
	copy(out, c.formulae)
	return out
}

// ErrUnknownFormula is returned by Select for names not in the catalog.
var ErrUnknownFormula = errors.New("formula: unknown formula")

// Select returns the named formulae in the order given, or every formula
// when all is set.
func (c *Catalog) Select(names []string, all bool) ([]*Formula, error) {
	if all {
		return c.All(), nil
	}
	if len(names) == 0 {
		return nil, errors.New("formula: select: no formula named (use --all for every service)")
	}
	out := make([]*Formula, 0, len(names))
	for _, n := range names {
		f, ok := c.byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFormula, n)
		}
		out = append(out, f)
	}
	return out, nil
}
