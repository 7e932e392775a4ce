package apply

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/recall"
)

func testInvoice() *model.Invoice {
	return &model.Invoice{
		ID:            "inv-1",
		VendorName:    "ACME GmbH",
		InvoiceNumber: "RE-1",
		InvoiceDate:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Fields:        make(map[string]model.FieldValue),
		RawText:       "Rechnung\nLeistungsdatum: 15.01.2024\nGesamtbetrag: 1.469,13 EUR\n",
	}
}

func vendorMemory(conf float64) model.VendorMemory {
	return model.VendorMemory{
		MemoryMeta:    model.MemoryMeta{ID: "vm-1", Confidence: conf},
		VendorKey:     "acme gmbh",
		OriginalLabel: "Leistungsdatum",
		FieldName:     "serviceDate",
	}
}

func TestApplyVendorMemoryAutoApplied(t *testing.T) {
	a := New(nil, confidence.Default())
	inv := testInvoice()

	res, err := a.Apply(context.Background(), inv, &recall.Result{
		VendorMemories: []model.VendorMemory{vendorMemory(0.9)},
	})
	require.NoError(t, err)

	// Extracted, date-normalized, written directly.
	assert.Equal(t, "2024-01-15", res.Normalized["serviceDate"].Value)
	assert.Equal(t, "Leistungsdatum", res.Normalized["serviceDate"].OriginalLabel)
	assert.Empty(t, res.Corrections)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, confidence.ActionAutoApplied, res.Applied[0].Action)
	assert.Equal(t, "2024-01-15", res.Applied[0].Value)
}

func TestApplyVendorMemorySuggested(t *testing.T) {
	a := New(nil, confidence.Default())
	inv := testInvoice()

	res, err := a.Apply(context.Background(), inv, &recall.Result{
		VendorMemories: []model.VendorMemory{vendorMemory(0.75)},
	})
	require.NoError(t, err)

	// Not written, only proposed.
	assert.Empty(t, res.Normalized["serviceDate"].Value)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, "serviceDate", res.Corrections[0].FieldName)
	assert.Equal(t, "2024-01-15", res.Corrections[0].SuggestedValue)
	assert.NotContains(t, res.Corrections[0].Reasoning, "[LOW CONFIDENCE]")
}

func TestApplyVendorMemoryFlagged(t *testing.T) {
	a := New(nil, confidence.Default())
	inv := testInvoice()

	res, err := a.Apply(context.Background(), inv, &recall.Result{
		VendorMemories: []model.VendorMemory{vendorMemory(0.55)},
	})
	require.NoError(t, err)

	require.Len(t, res.Corrections, 1)
	assert.Contains(t, res.Corrections[0].Reasoning, "[LOW CONFIDENCE]")

	require.Len(t, res.Applied, 1)
	assert.Equal(t, confidence.ActionFlagged, res.Applied[0].Action)
}

func TestApplyVendorMemorySkipsFilledField(t *testing.T) {
	a := New(nil, confidence.Default())
	inv := testInvoice()
	inv.Fields["serviceDate"] = model.FieldValue{Value: "2024-02-02", Confidence: 0.95}

	res, err := a.Apply(context.Background(), inv, &recall.Result{
		VendorMemories: []model.VendorMemory{vendorMemory(0.9)},
	})
	require.NoError(t, err)

	// Existing value untouched; the memory is still traced.
	assert.Equal(t, "2024-02-02", res.Normalized["serviceDate"].Value)
	require.Len(t, res.Applied, 1)
	assert.Empty(t, res.Applied[0].Value)
}

func TestApplyVendorMemoryExtractionMiss(t *testing.T) {
	a := New(nil, confidence.Default())
	inv := testInvoice()
	inv.RawText = "no labels here"

	res, err := a.Apply(context.Background(), inv, &recall.Result{
		VendorMemories: []model.VendorMemory{vendorMemory(0.9)},
	})
	require.NoError(t, err)

	// Failed extraction is routine: no value, no correction, trace kept.
	assert.Empty(t, res.Normalized["serviceDate"].Value)
	assert.Empty(t, res.Corrections)
	require.Len(t, res.Applied, 1)
}

func TestApplyCorrectionMemories(t *testing.T) {
	params := confidence.Default()
	a := New(nil, params)

	newCorrection := func(conf float64) model.CorrectionMemory {
		return model.CorrectionMemory{
			MemoryMeta:     model.MemoryMeta{ID: "cm-1", Confidence: conf},
			VendorKey:      "acme gmbh",
			FieldName:      "currency",
			CorrectedValue: "EUR",
		}
	}

	t.Run("AutoAppliedOverwrites", func(t *testing.T) {
		inv := testInvoice()
		inv.Fields["currency"] = model.FieldValue{Value: "Euro", Confidence: 0.9}

		res, err := a.Apply(context.Background(), inv, &recall.Result{
			CorrectionMemories: []model.CorrectionMemory{newCorrection(0.9)},
		})
		require.NoError(t, err)
		assert.Equal(t, "EUR", res.Normalized["currency"].Value)
		assert.Empty(t, res.Corrections)
	})

	t.Run("SuggestedProposes", func(t *testing.T) {
		inv := testInvoice()
		inv.Fields["currency"] = model.FieldValue{Value: "Euro", Confidence: 0.9}

		res, err := a.Apply(context.Background(), inv, &recall.Result{
			CorrectionMemories: []model.CorrectionMemory{newCorrection(0.75)},
		})
		require.NoError(t, err)
		assert.Equal(t, "Euro", res.Normalized["currency"].Value)
		require.Len(t, res.Corrections, 1)
		assert.Equal(t, "EUR", res.Corrections[0].SuggestedValue)
	})

	t.Run("FlaggedOnlyTraced", func(t *testing.T) {
		inv := testInvoice()
		inv.Fields["currency"] = model.FieldValue{Value: "Euro", Confidence: 0.9}

		res, err := a.Apply(context.Background(), inv, &recall.Result{
			CorrectionMemories: []model.CorrectionMemory{newCorrection(0.55)},
		})
		require.NoError(t, err)
		assert.Equal(t, "Euro", res.Normalized["currency"].Value)
		assert.Empty(t, res.Corrections)
		require.Len(t, res.Applied, 1)
		assert.Equal(t, confidence.ActionFlagged, res.Applied[0].Action)
		assert.Equal(t, "EUR", res.Applied[0].Value)
	})
}

func TestApplyAuditSummary(t *testing.T) {
	a := New(nil, confidence.Default())
	inv := testInvoice()
	inv.RawText += "2% Skonto bei Zahlung innerhalb 14 Tagen\n"

	res, err := a.Apply(context.Background(), inv, &recall.Result{
		VendorMemories: []model.VendorMemory{vendorMemory(0.9)},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StepApply, res.Audit.Step)
	assert.Contains(t, res.Audit.Details, "Applied 1 memories")
	assert.Contains(t, res.Audit.Details, "detected patterns:")
}

func TestContributing(t *testing.T) {
	res := &Result{Applied: []AppliedMemory{
		{MemoryID: "vm-1", Kind: model.KindVendor, FieldName: "serviceDate", Value: "2024-01-15"},
		{MemoryID: "cm-1", Kind: model.KindCorrection, FieldName: "currency", Value: "EUR"},
	}}

	got := res.Contributing()
	require.Len(t, got, 2)
	assert.Equal(t, "vm-1", got[0].MemoryID)
	assert.Equal(t, model.KindVendor, got[0].Kind)
	assert.Equal(t, "EUR", got[1].Value)
}
