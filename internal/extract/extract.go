// Package extract pulls field values out of raw invoice text given the
// vendor's known label for the field. Label patterns are additive,
// per-locale configuration; new labels never require core changes.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// Extractor is the capability the apply stage needs: extract the value
// following a known label in raw text.
type Extractor interface {
	Extract(label, text string) (string, bool)
}

// labelPattern binds one document label to a value-capturing regex.
// The pattern must have exactly one capture group.
type labelPattern struct {
	label   string
	pattern *regexp.Regexp
}

// LabelExtractor matches locale-specific label patterns first and falls
// back to a generic "label: value-until-newline" match.
type LabelExtractor struct {
	byLabel map[string][]*regexp.Regexp
}

// builtin holds the shipped label tables keyed by locale. Values are
// (label, value-pattern) pairs; the full regex is assembled at build time
// as label + separator + capture.
var builtin = map[language.Tag][][2]string{
	language.German: {
		{"Leistungsdatum", `(\d{1,2}\.\d{1,2}\.\d{4})`},
		{"Rechnungsdatum", `(\d{1,2}\.\d{1,2}\.\d{4})`},
		{"Lieferdatum", `(\d{1,2}\.\d{1,2}\.\d{4})`},
		{"Rechnungsnummer", `([A-Za-z0-9][A-Za-z0-9/_-]*)`},
		{"Bestellnummer", `([A-Za-z0-9][A-Za-z0-9/_-]*)`},
		{"Gesamtbetrag", `([\d.,]+)`},
		{"Nettobetrag", `([\d.,]+)`},
		{"MwSt", `([\d.,]+\s*%?)`},
		{"USt-IdNr", `([A-Z]{2}[A-Za-z0-9]+)`},
	},
	language.English: {
		{"Invoice Date", `(\d{4}-\d{2}-\d{2}|\d{1,2}[./]\d{1,2}[./]\d{4})`},
		{"Service Date", `(\d{4}-\d{2}-\d{2}|\d{1,2}[./]\d{1,2}[./]\d{4})`},
		{"Due Date", `(\d{4}-\d{2}-\d{2}|\d{1,2}[./]\d{1,2}[./]\d{4})`},
		{"Invoice Number", `([A-Za-z0-9][A-Za-z0-9/_-]*)`},
		{"PO Number", `([A-Za-z0-9][A-Za-z0-9/_-]*)`},
		{"Total Amount", `([\d.,]+)`},
		{"VAT", `([\d.,]+\s*%?)`},
	},
}

// NewLabelExtractor builds an extractor from the built-in locale tables.
func NewLabelExtractor() *LabelExtractor {
	e := &LabelExtractor{byLabel: make(map[string][]*regexp.Regexp)}
	for _, pairs := range builtin {
		for _, p := range pairs {
			e.AddLabelPattern(p[0], p[1])
		}
	}
	return e
}

// AddLabelPattern registers a value pattern for a label. valuePattern
// must contain exactly one capture group.
func (e *LabelExtractor) AddLabelPattern(label, valuePattern string) {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(label) + `\s*:?\s*` + valuePattern)
	if err != nil {
		return
	}
	key := strings.ToLower(label)
	e.byLabel[key] = append(e.byLabel[key], re)
}

// Extract returns the value following the label in text. Label-specific
// patterns win over the generic fallback. Extracted DD.MM.YYYY dates are
// normalized to YYYY-MM-DD.
func (e *LabelExtractor) Extract(label, text string) (string, bool) {
	if label == "" || text == "" {
		return "", false
	}
	for _, re := range e.byLabel[strings.ToLower(label)] {
		if m := re.FindStringSubmatch(text); m != nil {
			return NormalizeDate(strings.TrimSpace(m[1])), true
		}
	}
	// Generic fallback: everything after "label:" up to the newline.
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(label) + `\s*:?\s+([^\r\n]+)`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return "", false
	}
	return NormalizeDate(v), true
}

var germanDate = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)

// NormalizeDate rewrites DD.MM.YYYY dates to YYYY-MM-DD. Anything else
// is returned unchanged.
func NormalizeDate(v string) string {
	m := germanDate.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	return fmt.Sprintf("%s-%s-%s", m[3], pad2(m[2]), pad2(m[1]))
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
