package apply

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/recall"
)

func applyRawText(t *testing.T, raw string) *Result {
	t.Helper()
	a := New(nil, confidence.Default())
	inv := testInvoice()
	inv.RawText = raw

	res, err := a.Apply(context.Background(), inv, &recall.Result{})
	require.NoError(t, err)
	return res
}

func patternTypes(res *Result) []string {
	var types []string
	for _, p := range res.Patterns {
		types = append(types, p.Type)
	}
	return types
}

func TestDetectCurrencyRecovery(t *testing.T) {
	res := applyRawText(t, "Gesamtbetrag: 1.469,13 EUR")

	assert.Contains(t, patternTypes(res), PatternCurrencyRecovery)
	assert.Equal(t, "EUR", res.Normalized["currency"].Value)

	t.Run("NoRecoveryWhenFieldSet", func(t *testing.T) {
		a := New(nil, confidence.Default())
		inv := testInvoice()
		inv.Fields["currency"] = model.FieldValue{Value: "USD", Confidence: 1}
		inv.RawText = "Gesamtbetrag: 1.469,13 EUR"

		res, err := a.Apply(context.Background(), inv, &recall.Result{})
		require.NoError(t, err)
		assert.Equal(t, "USD", res.Normalized["currency"].Value)
		assert.NotContains(t, patternTypes(res), PatternCurrencyRecovery)
	})

	t.Run("OrdinaryWordsDoNotMatch", func(t *testing.T) {
		res := applyRawText(t, "THE TOTAL FOR ALL ITEMS")
		assert.NotContains(t, patternTypes(res), PatternCurrencyRecovery)
	})
}

func TestDetectEarlyPaymentDiscount(t *testing.T) {
	t.Run("SkontoTerm", func(t *testing.T) {
		res := applyRawText(t, "Zahlbar mit 2% Skonto binnen 14 Tagen")
		assert.Contains(t, patternTypes(res), PatternEarlyPaymentDiscount)
	})

	t.Run("PercentPhrase", func(t *testing.T) {
		res := applyRawText(t, "2.5 % within 10 days")
		require.Contains(t, patternTypes(res), PatternEarlyPaymentDiscount)
		for _, p := range res.Patterns {
			if p.Type == PatternEarlyPaymentDiscount {
				assert.Contains(t, p.Details, "2.5%")
			}
		}
	})
}

func TestDetectFreightMapping(t *testing.T) {
	res := applyRawText(t, "Position 3: Versandkosten 12,00")

	require.Contains(t, patternTypes(res), PatternCategoryMapping)
	for _, p := range res.Patterns {
		if p.Type == PatternCategoryMapping {
			assert.Contains(t, p.SuggestedAction, "SKU-FREIGHT")
		}
	}
}

func TestDetectTaxInclusive(t *testing.T) {
	res := applyRawText(t, "Alle Preise inkl. MwSt.")
	assert.Contains(t, patternTypes(res), PatternTaxInclusive)
}

func TestDetectPatternsEmptyText(t *testing.T) {
	res := applyRawText(t, "")
	assert.Empty(t, res.Patterns)
}
