package apply

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/invoice-memory/internal/model"
)

// Pattern is a domain signal detected in the raw document text,
// independent of any memory.
type Pattern struct {
	Type            string `json:"type"`
	Details         string `json:"details"`
	FieldName       string `json:"field_name,omitempty"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

const (
	PatternCurrencyRecovery     = "currency_recovery"
	PatternEarlyPaymentDiscount = "early_payment_discount"
	PatternCategoryMapping      = "category_mapping"
	PatternTaxInclusive         = "tax_inclusive"
	PatternPOMatch              = "po_match"
)

// freightSKU is the catalog code freight and shipping charges map to.
const freightSKU = "SKU-FREIGHT"

// knownCurrencies limits currency recovery to real ISO codes; a bare
// [A-Z]{3} match would fire on ordinary words.
var knownCurrencies = []string{
	"EUR", "USD", "GBP", "CHF", "SEK", "NOK", "DKK", "PLN", "CZK", "HUF",
	"JPY", "CNY", "CAD", "AUD",
}

var (
	currencyRe = regexp.MustCompile(`\b(` + strings.Join(knownCurrencies, "|") + `)\b`)
	skontoRe   = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*%\s*(?:within|bei|innerhalb)`)
)

var freightTerms = []string{"freight", "shipping", "fracht", "versand", "transportkosten"}

var taxInclusiveTerms = []string{
	"incl. vat", "incl. tax", "including vat", "including tax",
	"inkl. mwst", "inkl. ust", "preise inkl",
}

// detectPatterns scans the raw text for domain signals. Currency
// recovery is the only detector that mutates the normalized record.
func (a *Applier) detectPatterns(inv *model.Invoice, res *Result) {
	if inv.RawText == "" {
		return
	}
	lower := strings.ToLower(inv.RawText)

	// Currency recovery: fill the currency field if the document names one.
	if cur := res.Normalized["currency"]; cur.Value == "" {
		if m := currencyRe.FindString(inv.RawText); m != "" {
			cur.Value = m
			res.Normalized["currency"] = cur
			res.Patterns = append(res.Patterns, Pattern{
				Type:            PatternCurrencyRecovery,
				Details:         fmt.Sprintf("recovered currency %s from raw text", m),
				FieldName:       "currency",
				SuggestedAction: fmt.Sprintf("Verify recovered currency %s", m),
			})
		}
	}

	// Early-payment discount: the literal skonto term or a percent phrase.
	if strings.Contains(lower, "skonto") || skontoRe.MatchString(inv.RawText) {
		details := "early payment discount terms detected"
		if m := skontoRe.FindStringSubmatch(inv.RawText); m != nil {
			details = fmt.Sprintf("early payment discount of %s%% detected", m[1])
		}
		res.Patterns = append(res.Patterns, Pattern{
			Type:            PatternEarlyPaymentDiscount,
			Details:         details,
			SuggestedAction: "Review early payment discount terms before posting",
		})
	}

	// Freight and shipping charges map to a fixed catalog code.
	for _, term := range freightTerms {
		if strings.Contains(lower, term) {
			res.Patterns = append(res.Patterns, Pattern{
				Type:            PatternCategoryMapping,
				Details:         fmt.Sprintf("freight term %q found", term),
				FieldName:       "skuCode",
				SuggestedAction: fmt.Sprintf("Map freight charges to %s", freightSKU),
			})
			break
		}
	}

	// Tax-inclusive pricing: flag for verification, never mutate.
	for _, term := range taxInclusiveTerms {
		if strings.Contains(lower, term) {
			res.Patterns = append(res.Patterns, Pattern{
				Type:            PatternTaxInclusive,
				Details:         fmt.Sprintf("tax-inclusive phrasing %q found", term),
				SuggestedAction: "Verify whether line amounts are tax-inclusive",
			})
			break
		}
	}
}
