package plist

import (
	"bytes"
	"encoding/xml"
	"regexp"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Resolver supplies values for template placeholders.
type Resolver interface {
	// Lookup returns the value of the named accessor and whether it exists.
	Lookup(name string) (string, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string) (string, bool)

// Lookup calls f(name).
func (f ResolverFunc) Lookup(name string) (string, bool) { return f(name) }

// Render replaces every {{name}} placeholder in tmpl with r.Lookup(name).
// Placeholders that do not resolve collapse to the empty string.
func Render(tmpl string, r Resolver) string {
	return render(tmpl, r, func(s string) string { return s })
}

// RenderXML is Render with substituted values escaped as XML character data,
// so that values containing markup characters cannot corrupt the document.
func RenderXML(tmpl string, r Resolver) string {
	return render(tmpl, r, escapeXML)
}

func render(tmpl string, r Resolver, escape func(string) string) string {
	return placeholderRE.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRE.FindStringSubmatch(match)[1]
		if r == nil {
			return ""
		}
		v, ok := r.Lookup(name)
		if !ok {
			return ""
		}
		return escape(v)
	})
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	// xml.EscapeText only fails when the writer fails.
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
