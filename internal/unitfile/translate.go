package unitfile

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/plexsphere/plexsvc/internal/plist"
)

// Definition is a service declared by an installed formula.
type Definition interface {
	ID() string
	Name() string
	ConfigDocument() (plist.Document, error)
}

// Translation is the result of translating one Definition.
type Translation struct {
	Description *Description
	// Unsupported lists ignored foreign keys in encounter order.
	Unsupported []string
}

// Warning returns an *UnsupportedKeysError when keys were ignored, else nil.
func (t Translation) Warning(service string) error {
	if len(t.Unsupported) == 0 {
		return nil
	}
	return &UnsupportedKeysError{Service: service, Keys: append([]string(nil), t.Unsupported...)}
}

// UnsupportedKeysError lists foreign keys that have no unit equivalent.
// It is a warning: the translation it accompanies is still usable.
type UnsupportedKeysError struct {
	Service string
	Keys    []string
}

// Error returns the formatted warning.
func (e *UnsupportedKeysError) Error() string {
	return fmt.Sprintf("unitfile: %s: unsupported keys ignored: %s", e.Service, strings.Join(e.Keys, ", "))
}

type keyHandler func(d *Description, v plist.Value)

var handlers = map[string]keyHandler{
	"KeepAlive": func(d *Description, v plist.Value) {
		if v.Kind == plist.KindBool && !v.Bool {
			return
		}
		d.Set(SectionService, "Restart", "always")
	},
	"Label": func(d *Description, v plist.Value) {
		d.Set(SectionUnit, "Description", v.Text())
	},
	"ProgramArguments": func(d *Description, v plist.Value) {
		args := v.List
		if v.Kind != plist.KindList {
			args = []string{v.Text()}
		}
		d.Set(SectionService, "ExecStart", QuoteExec(args))
	},
	"RunAtLoad": func(*Description, plist.Value) {},
	"StandardErrorPath": func(d *Description, v plist.Value) {
		d.Set(SectionService, "StandardError", "file:"+v.Text())
	},
	"WorkingDirectory": func(d *Description, v plist.Value) {
		d.Set(SectionService, "WorkingDirectory", v.Text())
	},
}

// TranslateDocument maps a foreign config document onto a unit description.
// It is a pure function of doc.
func TranslateDocument(doc plist.Document) Translation {
	desc := NewDescription()
	var unsupported []string
	for _, e := range doc.Entries {
		h, ok := handlers[e.Key]
		// A line break would start a new directive or section.
		if !ok || hasLineBreak(e.Value) {
			unsupported = append(unsupported, e.Key)
			continue
		}
		h(desc, e.Value)
	}
	desc.Set(SectionService, "Type", "simple")
	desc.Set(SectionInstall, "WantedBy", "default.target")
	return Translation{Description: desc, Unsupported: unsupported}
}

func hasLineBreak(v plist.Value) bool {
	if strings.ContainsAny(v.Str, "\r\n") {
		return true
	}
	for _, item := range v.List {
		if strings.ContainsAny(item, "\r\n") {
			return true
		}
	}
	return false
}

// Translator builds unit descriptions for definitions and reports ignored keys.
type Translator struct {
	logger *slog.Logger
}

// NewTranslator returns a Translator logging warnings to logger.
func NewTranslator(logger *slog.Logger) *Translator {
	return &Translator{logger: logger.With("component", "unitfile")}
}

// Translate renders def's config document and translates it. The error is
// non-nil only when the document cannot be built.
func (t *Translator) Translate(def Definition) (Translation, error) {
	doc, err := def.ConfigDocument()
	if err != nil {
		return Translation{}, fmt.Errorf("unitfile: translate %s: %w", def.Name(), err)
	}
	tr := TranslateDocument(doc)
	if len(tr.Unsupported) > 0 {
		t.logger.Warn("unsupported service keys ignored", "service", def.Name(), "keys", tr.Unsupported)
	}
	return tr, nil
}

// QuoteExec quotes every argument for an ExecStart= line and joins them
// with single spaces. Specifiers (%) and variable references ($) are escaped
// so that arguments reach the process verbatim.
func QuoteExec(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		q := strconv.Quote(a)
		q = strings.ReplaceAll(q, "%", "%%")
		q = strings.ReplaceAll(q, "$", "$$")
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}
