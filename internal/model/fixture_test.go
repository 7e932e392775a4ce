package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadInvoice(t *testing.T) {
	path := writeFixture(t, "invoice.yaml", `
id: inv-1
vendor_name: ACME GmbH
invoice_number: RE-2024-0815
fields:
  serviceDate:
    value: ""
    confidence: 0.9
    original_label: Leistungsdatum
line_items:
  - code: SKU-1
    quantity: 10
    unit_price: 19.99
raw_text: |
  Leistungsdatum: 15.01.2024
`)

	inv, err := LoadInvoice(path)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", inv.ID)
	assert.Equal(t, "ACME GmbH", inv.VendorName)
	assert.Equal(t, "Leistungsdatum", inv.Fields["serviceDate"].OriginalLabel)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, 10.0, inv.LineItems[0].Quantity)
	assert.Contains(t, inv.RawText, "Leistungsdatum")
}

func TestLoadInvoiceRequiresID(t *testing.T) {
	path := writeFixture(t, "invoice.yaml", "vendor_name: ACME GmbH\n")

	_, err := LoadInvoice(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestLoadPurchaseOrders(t *testing.T) {
	path := writeFixture(t, "orders.yaml", `
- number: PO-77
  vendor_name: ACME GmbH
  line_items:
    - code: SKU-1
      quantity: 10
- number: PO-78
  vendor_name: Globex Inc
`)

	orders, err := LoadPurchaseOrders(path)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "PO-77", orders[0].Number)
	assert.Equal(t, "Globex Inc", orders[1].VendorName)
}

func TestLoadFeedback(t *testing.T) {
	path := writeFixture(t, "feedback.yaml", `
invoice_id: inv-1
action: correct
corrections:
  - field_name: serviceDate
    corrected_value: "2024-01-15"
`)

	fb, err := LoadFeedback(path)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", fb.InvoiceID)
	assert.Equal(t, FeedbackCorrect, fb.Action)
	require.Len(t, fb.Corrections, 1)
	assert.Equal(t, "2024-01-15", fb.Corrections[0].CorrectedValue)
}

func TestLoadFeedbackRequiresInvoiceID(t *testing.T) {
	path := writeFixture(t, "feedback.yaml", "action: approve\n")

	_, err := LoadFeedback(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no invoice_id")
}

func TestResolutionMemoryRates(t *testing.T) {
	m := ResolutionMemory{ApprovalCount: 3, RejectionCount: 1}
	assert.Equal(t, 4, m.Outcomes())
	assert.InDelta(t, 0.75, m.ApprovalRate(), 1e-9)

	empty := ResolutionMemory{}
	assert.Equal(t, 0, empty.Outcomes())
	assert.Equal(t, 0.0, empty.ApprovalRate())
}
