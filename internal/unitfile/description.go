// Package unitfile translates formula service descriptions into systemd unit files.
package unitfile

import (
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// Section names, in the order they are serialized.
const (
	SectionUnit    = "Unit"
	SectionService = "Service"
	SectionInstall = "Install"
)

// section is an ordered key/value mapping.
type section struct {
	name   string
	keys   []string
	values map[string]string
}

// Description is an ordered set of unit sections. Section order is fixed
// (Unit, Service, Install); keys keep insertion order.
type Description struct {
	sections []*section
}

// NewDescription returns an empty Description.
func NewDescription() *Description {
	d := &Description{}
	for _, name := range []string{SectionUnit, SectionService, SectionInstall} {
		d.sections = append(d.sections, &section{name: name, values: map[string]string{}})
	}
	return d
}

func (d *Description) section(name string) *section {
	for _, s := range d.sections {
		if s.name == name {
			return s
		}
	}
	s := &section{name: name, values: map[string]string{}}
	d.sections = append(d.sections, s)
	return s
}

// Set assigns key in the named section. Re-setting a key replaces its value
// but keeps its original position.
func (d *Description) Set(sectionName, key, value string) {
	s := d.section(sectionName)
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get returns the value of key in the named section.
func (d *Description) Get(sectionName, key string) (string, bool) {
	for _, s := range d.sections {
		if s.name == sectionName {
			v, ok := s.values[key]
			return v, ok
		}
	}
	return "", false
}

// Sections returns the names of sections holding at least one directive.
func (d *Description) Sections() []string {
	var out []string
	for _, s := range d.sections {
		if len(s.keys) > 0 {
			out = append(out, s.name)
		}
	}
	return out
}

// Options flattens the description into systemd unit options in order.
func (d *Description) Options() []*unit.UnitOption {
	var opts []*unit.UnitOption
	for _, s := range d.sections {
		for _, k := range s.keys {
			opts = append(opts, unit.NewUnitOption(s.name, k, s.values[k]))
		}
	}
	return opts
}

// Serialize renders the unit file text: one [Section] block per populated
// section, blank-line separated, Key=Value lines inside.
func (d *Description) Serialize() string {
	// unit.Serialize returns a bytes.Buffer; reading it cannot fail.
	data, _ := io.ReadAll(unit.Serialize(d.Options()))
	return string(data)
}

// String implements fmt.Stringer.
func (d *Description) String() string {
	return strings.TrimRight(d.Serialize(), "\n")
}
