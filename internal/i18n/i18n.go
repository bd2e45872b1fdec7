// Package i18n localizes the text of generated mail. A catalog applies only
// when the mail being answered uses the catalog's charset; otherwise the
// English template is formatted as is.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Catalog is a set of translations for one language, delivered in one
// charset.
type Catalog struct {
	tag      language.Tag
	charset  string
	builder  *catalog.Builder
	messages map[string]string
}

// NewCatalog builds a catalog from template → translation pairs.
func NewCatalog(tag language.Tag, charset string, translations map[string]string) (*Catalog, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range translations {
		if err := b.SetString(tag, key, msg); err != nil {
			return nil, fmt.Errorf("add translation %q: %w", key, err)
		}
	}
	return &Catalog{
		tag:      tag,
		charset:  strings.ToLower(charset),
		builder:  b,
		messages: translations,
	}, nil
}

// Load returns the built-in catalog named by lang. An empty name means no
// catalog.
func Load(lang string) (*Catalog, error) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "":
		return nil, nil
	case "ja", "japanese":
		return NewCatalog(language.Japanese, "iso-2022-jp", japanese)
	default:
		return nil, fmt.Errorf("unknown message catalog %q", lang)
	}
}

func (c *Catalog) Charset() string {
	if c == nil {
		return ""
	}
	return c.charset
}

// Localizer formats templates for mail in one charset.
type Localizer struct {
	printer  *message.Printer
	messages map[string]string
}

// For returns the localizer for mail in charset. A nil catalog or a charset
// mismatch yields the untranslated localizer.
func (c *Catalog) For(charset string) *Localizer {
	if c == nil || !strings.EqualFold(c.charset, charset) {
		return &Localizer{}
	}
	return &Localizer{
		printer:  message.NewPrinter(c.tag, message.Catalog(c.builder)),
		messages: c.messages,
	}
}

// Translated reports whether a catalog applies.
func (l *Localizer) Translated() bool {
	return l.printer != nil
}

// Sprintf formats the translation of template, or template itself when no
// translation exists.
func (l *Localizer) Sprintf(template string, args ...any) string {
	if l.printer == nil {
		return fmt.Sprintf(template, args...)
	}
	return l.printer.Sprintf(template, args...)
}

// Text returns the translation of a template without formatting it.
func (l *Localizer) Text(template string) string {
	if translated, ok := l.messages[template]; ok {
		return translated
	}
	return template
}
