package apply

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-memory/internal/model"
)

func poDate(day int) time.Time {
	return time.Date(2024, 5, day, 0, 0, 0, 0, time.UTC)
}

func TestMatchPurchaseOrderVendorRequired(t *testing.T) {
	orders := []model.PurchaseOrder{
		{Number: "PO-1", VendorName: "Globex Inc", OrderDate: poDate(1)},
	}
	assert.Nil(t, MatchPurchaseOrder("acme gmbh", poDate(1), nil, orders))
}

func TestMatchPurchaseOrderScoring(t *testing.T) {
	items := []model.LineItem{
		{Code: "SKU-1", Quantity: 10},
		{Code: "SKU-2", Quantity: 5},
	}

	t.Run("VendorOnly", func(t *testing.T) {
		orders := []model.PurchaseOrder{
			{Number: "PO-1", VendorName: "ACME GmbH", OrderDate: poDate(1).AddDate(0, -6, 0)},
		}
		m := MatchPurchaseOrder("acme gmbh", poDate(1), nil, orders)
		require.NotNil(t, m)
		assert.InDelta(t, 0.3, m.Confidence, 1e-9)
	})

	t.Run("SameDayFullDateBonus", func(t *testing.T) {
		orders := []model.PurchaseOrder{
			{Number: "PO-1", VendorName: "ACME GmbH", OrderDate: poDate(1)},
		}
		m := MatchPurchaseOrder("acme gmbh", poDate(1), nil, orders)
		require.NotNil(t, m)
		assert.InDelta(t, 0.5, m.Confidence, 1e-9)
	})

	t.Run("CodeOverlapAndExactLines", func(t *testing.T) {
		orders := []model.PurchaseOrder{{
			Number:     "PO-1",
			VendorName: "ACME GmbH",
			OrderDate:  poDate(1),
			LineItems: []model.LineItem{
				{Code: "SKU-1", Quantity: 10},
				{Code: "SKU-2", Quantity: 7},
			},
		}}
		m := MatchPurchaseOrder("acme gmbh", poDate(1), items, orders)
		require.NotNil(t, m)
		// 0.3 vendor + 0.2 date + 0.3 full code overlap + 0.1 one exact line.
		assert.InDelta(t, 0.9, m.Confidence, 1e-9)
		assert.Contains(t, m.Reasons, "vendor match")
		assert.Contains(t, m.Reasons, "2/2 item codes match")
	})

	t.Run("OverlapDenominatorIsLargerSet", func(t *testing.T) {
		orders := []model.PurchaseOrder{{
			Number:     "PO-1",
			VendorName: "ACME GmbH",
			OrderDate:  poDate(1).AddDate(-1, 0, 0),
			LineItems: []model.LineItem{
				{Code: "SKU-1", Quantity: 1},
				{Code: "SKU-2", Quantity: 1},
				{Code: "SKU-3", Quantity: 1},
				{Code: "SKU-4", Quantity: 1},
			},
		}}
		m := MatchPurchaseOrder("acme gmbh", poDate(1), []model.LineItem{{Code: "SKU-1", Quantity: 2}}, orders)
		require.NotNil(t, m)
		// 0.3 vendor + 0.3 * 1/4 overlap; no date, no exact lines.
		assert.InDelta(t, 0.375, m.Confidence, 1e-9)
	})

	t.Run("ScoreCappedAtOne", func(t *testing.T) {
		lines := make([]model.LineItem, 6)
		for i := range lines {
			lines[i] = model.LineItem{Code: "SKU-" + string(rune('A'+i)), Quantity: float64(i + 1)}
		}
		orders := []model.PurchaseOrder{{
			Number: "PO-1", VendorName: "ACME GmbH", OrderDate: poDate(1), LineItems: lines,
		}}
		m := MatchPurchaseOrder("acme gmbh", poDate(1), lines, orders)
		require.NotNil(t, m)
		assert.Equal(t, 1.0, m.Confidence)
	})

	t.Run("FirstMaxWinsTies", func(t *testing.T) {
		orders := []model.PurchaseOrder{
			{Number: "PO-1", VendorName: "ACME GmbH", OrderDate: poDate(1)},
			{Number: "PO-2", VendorName: "ACME GmbH", OrderDate: poDate(1)},
		}
		m := MatchPurchaseOrder("acme gmbh", poDate(1), nil, orders)
		require.NotNil(t, m)
		assert.Equal(t, "PO-1", m.Order.Number)
	})
}

func TestMatchPurchaseOrderDateDecay(t *testing.T) {
	near := MatchPurchaseOrder("acme gmbh", poDate(16), nil, []model.PurchaseOrder{
		{Number: "PO-1", VendorName: "ACME GmbH", OrderDate: poDate(1)},
	})
	far := MatchPurchaseOrder("acme gmbh", poDate(29), nil, []model.PurchaseOrder{
		{Number: "PO-1", VendorName: "ACME GmbH", OrderDate: poDate(1)},
	})
	require.NotNil(t, near)
	require.NotNil(t, far)
	// 15 days: 0.3 + 0.2*(1-15/30) = 0.4; 28 days: 0.3 + 0.2*(1-28/30).
	assert.InDelta(t, 0.4, near.Confidence, 1e-9)
	assert.Greater(t, near.Confidence, far.Confidence)
}
