// Package plist decodes the property-list service descriptions that formulae
// ship, after rendering their {{placeholder}} templates.
package plist

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	// KindOther marks a value whose type is not modeled (dict, data).
	KindOther Kind = iota
	KindString
	KindBool
	KindList
)

// Value is a single property-list value.
type Value struct {
	Kind Kind
	Str  string
	Bool bool
	List []string
}

// String returns a Value holding s.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool returns a Value holding b.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// List returns a Value holding items.
func List(items ...string) Value { return Value{Kind: KindList, List: items} }

// Text returns the value rendered as a single string.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindList:
		return strings.Join(v.List, " ")
	default:
		return ""
	}
}

// Entry is one key/value pair of a Document.
type Entry struct {
	Key   string
	Value Value
}

// Document is the top-level dictionary of a property list.
// Entries keep the order in which keys appear in the source.
type Document struct {
	Entries []Entry
}

// Get returns the value stored under key.
func (d Document) Get(key string) (Value, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Keys returns all keys in source order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Decode parses an XML property list whose root object is a dict.
func Decode(data []byte) (Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return Document{}, errors.New("plist: decode: no top-level dict")
		}
		if err != nil {
			return Document{}, fmt.Errorf("plist: decode: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "plist":
			continue
		case "dict":
			return decodeDict(dec)
		default:
			return Document{}, fmt.Errorf("plist: decode: unexpected root element <%s>", start.Name.Local)
		}
	}
}

func decodeDict(dec *xml.Decoder) (Document, error) {
	var doc Document
	var key string
	haveKey := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return Document{}, fmt.Errorf("plist: decode dict: %w", err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if haveKey {
				return Document{}, fmt.Errorf("plist: decode dict: key %q has no value", key)
			}
			return doc, nil
		case xml.StartElement:
			if t.Name.Local == "key" {
				if haveKey {
					return Document{}, fmt.Errorf("plist: decode dict: key %q has no value", key)
				}
				key, err = readText(dec, t)
				if err != nil {
					return Document{}, err
				}
				haveKey = true
				continue
			}
			if !haveKey {
				return Document{}, fmt.Errorf("plist: decode dict: <%s> without a key", t.Name.Local)
			}
			v, err := decodeValue(dec, t)
			if err != nil {
				return Document{}, fmt.Errorf("plist: decode %q: %w", key, err)
			}
			doc.Entries = append(doc.Entries, Entry{Key: key, Value: v})
			haveKey = false
		}
	}
}

func decodeValue(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	switch start.Name.Local {
	case "string", "integer", "real", "date":
		s, err := readText(dec, start)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case "true", "false":
		if err := dec.Skip(); err != nil {
			return Value{}, err
		}
		return Bool(start.Name.Local == "true"), nil
	case "array":
		return decodeArray(dec)
	default:
		if err := dec.Skip(); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindOther}, nil
	}
}

// decodeArray keeps scalar items as strings and drops nested containers.
func decodeArray(dec *xml.Decoder) (Value, error) {
	items := []string{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return List(items...), nil
		case xml.StartElement:
			switch t.Name.Local {
			case "string", "integer", "real", "date":
				s, err := readText(dec, t)
				if err != nil {
					return Value{}, err
				}
				items = append(items, s)
			default:
				if err := dec.Skip(); err != nil {
					return Value{}, err
				}
			}
		}
	}
}

func readText(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("plist: read <%s>: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			return b.String(), nil
		case xml.StartElement:
			return "", fmt.Errorf("plist: unexpected <%s> inside <%s>", t.Name.Local, start.Name.Local)
		}
	}
}
