package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return New(s, confidence.Default(), DefaultOptions()), s
}

func germanInvoice(id, number string) *model.Invoice {
	return &model.Invoice{
		ID:            id,
		VendorName:    "ACME GmbH",
		InvoiceNumber: number,
		InvoiceDate:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Fields: map[string]model.FieldValue{
			"invoiceNumber": {Value: number, Confidence: 0.95},
		},
		RawText: "Rechnung " + number + "\nLeistungsdatum: 15.01.2024\nGesamtbetrag: 1.469,13\n",
	}
}

func TestProcessWritesAuditTrail(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Process(ctx, germanInvoice("inv-1", "RE-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", res.InvoiceID)
	require.Len(t, res.AuditTrail, 3)
	assert.Equal(t, model.StepRecall, res.AuditTrail[0].Step)
	assert.Equal(t, model.StepApply, res.AuditTrail[1].Step)
	assert.Equal(t, model.StepDecide, res.AuditTrail[2].Step)

	// The persisted trail matches what the result reports.
	trail, err := s.AuditTrail(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "no relevant memories found", trail[0].Details)
}

func TestProcessDetectsDuplicates(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Process(ctx, germanInvoice("inv-1", "RE-1"), nil)
	require.NoError(t, err)
	assert.NotContains(t, first.Reasoning, "duplicate")

	// Same vendor and number three days later.
	dupe := germanInvoice("inv-2", "RE-1")
	dupe.InvoiceDate = dupe.InvoiceDate.AddDate(0, 0, 3)
	second, err := p.Process(ctx, dupe, nil)
	require.NoError(t, err)
	assert.True(t, second.RequiresHumanReview)
	assert.Contains(t, second.Reasoning, "possible duplicate of invoice(s) inv-1")
}

func TestProcessMatchesPurchaseOrder(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	inv := germanInvoice("inv-1", "RE-1")
	inv.LineItems = []model.LineItem{{Code: "SKU-1", Quantity: 10}}
	orders := []model.PurchaseOrder{{
		Number:     "PO-77",
		VendorName: "ACME GmbH",
		OrderDate:  inv.InvoiceDate.AddDate(0, 0, -2),
		LineItems:  []model.LineItem{{Code: "SKU-1", Quantity: 10}},
	}}

	res, err := p.Process(ctx, inv, orders)
	require.NoError(t, err)

	var found bool
	for _, c := range res.ProposedCorrections {
		if strings.Contains(c, "poNumber") && strings.Contains(c, "PO-77") {
			found = true
		}
	}
	assert.True(t, found, "expected a poNumber correction proposing PO-77, got %v", res.ProposedCorrections)
}

func TestProcessSkipsPOMatchWhenNumberPresent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	inv := germanInvoice("inv-1", "RE-1")
	inv.Fields["poNumber"] = model.FieldValue{Value: "PO-1", Confidence: 0.95}
	orders := []model.PurchaseOrder{{
		Number: "PO-77", VendorName: "ACME GmbH", OrderDate: inv.InvoiceDate,
	}}

	res, err := p.Process(ctx, inv, orders)
	require.NoError(t, err)
	for _, c := range res.ProposedCorrections {
		assert.NotContains(t, c, "PO-77")
	}
}

func TestFeedbackLifecycleLearnsVendorMapping(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	// First pass: nothing known, the serviceDate field arrives with its
	// original label and gets corrected by a human.
	inv := germanInvoice("inv-1", "RE-1")
	inv.Fields["serviceDate"] = model.FieldValue{Confidence: 0.9, OriginalLabel: "Leistungsdatum"}

	_, err := p.Process(ctx, inv, nil)
	require.NoError(t, err)

	_, err = p.Feedback(ctx, &model.HumanFeedback{
		InvoiceID: "inv-1",
		Action:    model.FeedbackCorrect,
		Corrections: []model.FieldCorrection{
			{FieldName: "serviceDate", CorrectedValue: "2024-01-15"},
		},
	}, nil)
	require.NoError(t, err)

	m, err := s.FindVendorMemoryByLabel(ctx, "acme gmbh", "Leistungsdatum", "serviceDate")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.InDelta(t, 0.6, m.Confidence, 1e-9)

	// Repeated approvals reinforce the mapping past the auto-apply bar.
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("inv-loop-%d", i)
		loop := germanInvoice(id, fmt.Sprintf("RE-%d", 100+i))
		_, err := p.Process(ctx, loop, nil)
		require.NoError(t, err)
		_, err = p.Feedback(ctx, &model.HumanFeedback{InvoiceID: id, Action: model.FeedbackApprove}, nil)
		require.NoError(t, err)
	}

	m, err = s.FindVendorMemoryByLabel(ctx, "acme gmbh", "Leistungsdatum", "serviceDate")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.GreaterOrEqual(t, m.Confidence, confidence.Default().AutoApplyThreshold)

	// A fresh invoice without the field now gets it auto-filled from raw
	// text, date-normalized.
	fresh := germanInvoice("inv-final", "RE-999")
	res, err := p.Process(ctx, fresh, nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", res.NormalizedFields["serviceDate"])
}

func TestFeedbackRejectionsSuppressMemory(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	seed := &model.VendorMemory{
		MemoryMeta:    model.MemoryMeta{Confidence: 0.9},
		VendorKey:     "acme gmbh",
		VendorName:    "ACME GmbH",
		OriginalLabel: "Leistungsdatum",
		FieldName:     "serviceDate",
	}
	require.NoError(t, s.CreateVendorMemory(ctx, seed))

	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("inv-%d", i)
		_, err := p.Process(ctx, germanInvoice(id, fmt.Sprintf("RE-%d", i)), nil)
		require.NoError(t, err)
		_, err = p.Feedback(ctx, &model.HumanFeedback{InvoiceID: id, Action: model.FeedbackReject}, nil)
		require.NoError(t, err)
	}

	// Two rejections push confidence below the recall floor, so the
	// memory stops influencing runs before deactivation is ever needed.
	got, err := s.GetVendorMemory(ctx, seed.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9*0.7*0.7, got.Confidence, 1e-9)
	assert.Equal(t, 2, got.ConsecutiveRejections)
	assert.True(t, got.Active)

	res, err := p.Process(ctx, germanInvoice("inv-after", "RE-after"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.NormalizedFields["serviceDate"])
}

func TestFeedbackRecordsResolutionOutcomes(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	inv := germanInvoice("inv-1", "RE-1")
	inv.Fields["quantityShipped"] = model.FieldValue{Value: "10", Confidence: 0.9}

	_, err := p.Process(ctx, inv, nil)
	require.NoError(t, err)
	_, err = p.Feedback(ctx, &model.HumanFeedback{InvoiceID: "inv-1", Action: model.FeedbackApprove}, inv)
	require.NoError(t, err)

	mems, err := s.ResolutionMemories(ctx, "quantity_mismatch")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, 1, mems[0].ApprovalCount)
	assert.Equal(t, 0, mems[0].RejectionCount)
}

func TestFeedbackWithoutRegistrationNeedsInvoice(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.Feedback(context.Background(), &model.HumanFeedback{
		InvoiceID: "never-processed",
		Action:    model.FeedbackApprove,
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no processing record")
}
