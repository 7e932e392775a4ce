package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const germanInvoice = `Rechnung
Rechnungsnummer: RE-2024-0815
Rechnungsdatum: 03.02.2024
Leistungsdatum: 15.1.2024
Nettobetrag: 1.234,56
MwSt: 19 %
Gesamtbetrag: 1.469,13
`

func TestExtractGermanLabels(t *testing.T) {
	e := NewLabelExtractor()

	t.Run("DateNormalized", func(t *testing.T) {
		v, ok := e.Extract("Leistungsdatum", germanInvoice)
		require.True(t, ok)
		assert.Equal(t, "2024-01-15", v)
	})

	t.Run("InvoiceNumber", func(t *testing.T) {
		v, ok := e.Extract("Rechnungsnummer", germanInvoice)
		require.True(t, ok)
		assert.Equal(t, "RE-2024-0815", v)
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		v, ok := e.Extract("rechnungsdatum", germanInvoice)
		require.True(t, ok)
		assert.Equal(t, "2024-02-03", v)
	})
}

func TestExtractGenericFallback(t *testing.T) {
	e := NewLabelExtractor()

	v, ok := e.Extract("Kundennummer", "Kundennummer: K-998\nOrt: Berlin")
	require.True(t, ok)
	assert.Equal(t, "K-998", v)

	_, ok = e.Extract("Kundennummer", "no such label here")
	assert.False(t, ok)
}

func TestExtractEmptyInputs(t *testing.T) {
	e := NewLabelExtractor()

	_, ok := e.Extract("", germanInvoice)
	assert.False(t, ok)
	_, ok = e.Extract("Leistungsdatum", "")
	assert.False(t, ok)
}

func TestAddLabelPattern(t *testing.T) {
	e := NewLabelExtractor()
	e.AddLabelPattern("Auftragsnr", `([A-Z]{2}-\d+)`)

	v, ok := e.Extract("Auftragsnr", "Auftragsnr AB-4711 vom 01.01.2024")
	require.True(t, ok)
	assert.Equal(t, "AB-4711", v)
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2024-01-15", NormalizeDate("15.1.2024"))
	assert.Equal(t, "2024-12-01", NormalizeDate("1.12.2024"))
	assert.Equal(t, "2024-03-07", NormalizeDate("2024-03-07"))
	assert.Equal(t, "not a date", NormalizeDate("not a date"))
}
