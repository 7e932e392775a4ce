// Package recall retrieves and ranks the memories relevant to a new
// invoice: vendor field mappings, value corrections, and historical
// resolution outcomes.
package recall

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/store"
)

// Result holds everything recalled for one invoice, ranked and filtered.
type Result struct {
	VendorMemories     []model.VendorMemory
	CorrectionMemories []model.CorrectionMemory
	ResolutionMemories []model.ResolutionMemory
	Audit              model.AuditEntry
}

// Recaller performs the recall stage against a memory store.
type Recaller struct {
	store  store.Store
	params confidence.Params
}

// New creates a Recaller.
func New(st store.Store, params confidence.Params) *Recaller {
	return &Recaller{store: st, params: params}
}

// discrepancyKeywords maps invoice field-name fragments to discrepancy
// types for resolution-memory lookup. Order fixes the derived tag order.
var discrepancyKeywords = []struct {
	keyword string
	dtype   string
}{
	{"quantity", "quantity_mismatch"},
	{"qty", "quantity_mismatch"},
	{"menge", "quantity_mismatch"},
	{"price", "price_mismatch"},
	{"amount", "price_mismatch"},
	{"total", "price_mismatch"},
	{"betrag", "price_mismatch"},
	{"date", "date_mismatch"},
	{"datum", "date_mismatch"},
	{"tax", "tax_mismatch"},
	{"vat", "tax_mismatch"},
	{"mwst", "tax_mismatch"},
	{"currency", "currency_mismatch"},
	{"po", "po_mismatch"},
	{"purchase", "po_mismatch"},
}

// Recall fetches all potentially relevant memories for the invoice.
// Memories below the minimum-usable confidence are never returned.
func (r *Recaller) Recall(ctx context.Context, inv *model.Invoice) (*Result, error) {
	vendorKey := confidence.NormalizeVendorKey(inv.VendorName)

	vendorMems, err := r.vendorMemories(ctx, vendorKey)
	if err != nil {
		return nil, err
	}
	correctionMems, err := r.correctionMemories(ctx, vendorKey, inv)
	if err != nil {
		return nil, err
	}
	resolutionMems, err := r.resolutionMemories(ctx, inv)
	if err != nil {
		return nil, err
	}

	res := &Result{
		VendorMemories:     vendorMems,
		CorrectionMemories: correctionMems,
		ResolutionMemories: resolutionMems,
		Audit: model.AuditEntry{
			InvoiceID: inv.ID,
			Step:      model.StepRecall,
			Timestamp: time.Now().UTC(),
			Details:   summarize(vendorMems, correctionMems, resolutionMems),
		},
	}

	zap.L().Debug("recall: complete",
		zap.String("invoice_id", inv.ID),
		zap.String("vendor_key", vendorKey),
		zap.Int("vendor_memories", len(vendorMems)),
		zap.Int("correction_memories", len(correctionMems)),
		zap.Int("resolution_memories", len(resolutionMems)),
	)
	return res, nil
}

func (r *Recaller) vendorMemories(ctx context.Context, vendorKey string) ([]model.VendorMemory, error) {
	mems, err := r.store.ActiveVendorMemories(ctx, vendorKey)
	if err != nil {
		return nil, eris.Wrap(err, "recall: vendor memories")
	}
	var out []model.VendorMemory
	for _, m := range mems {
		if m.Confidence >= r.params.MinimumConfidence {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *Recaller) correctionMemories(ctx context.Context, vendorKey string, inv *model.Invoice) ([]model.CorrectionMemory, error) {
	seen := make(map[string]bool)
	var out []model.CorrectionMemory
	for _, field := range sortedFieldNames(inv) {
		mems, err := r.store.CorrectionMemories(ctx, vendorKey, field)
		if err != nil {
			return nil, eris.Wrapf(err, "recall: correction memories for %s", field)
		}
		for _, m := range mems {
			if seen[m.ID] || m.Confidence < r.params.MinimumConfidence {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

func (r *Recaller) resolutionMemories(ctx context.Context, inv *model.Invoice) ([]model.ResolutionMemory, error) {
	var out []model.ResolutionMemory
	for _, dtype := range DiscrepancyTypes(inv) {
		mems, err := r.store.ResolutionMemories(ctx, dtype)
		if err != nil {
			return nil, eris.Wrapf(err, "recall: resolution memories for %s", dtype)
		}
		for _, m := range mems {
			if m.Outcomes() > 0 {
				out = append(out, m)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].ApprovalRate(), out[j].ApprovalRate()
		if ri != rj {
			return ri > rj
		}
		return out[i].Outcomes() > out[j].Outcomes()
	})
	return out, nil
}

// DiscrepancyTypes derives the set of discrepancy-type tags suggested by
// the invoice's field names, in keyword-table order.
func DiscrepancyTypes(inv *model.Invoice) []string {
	fields := sortedFieldNames(inv)
	seen := make(map[string]bool)
	var out []string
	for _, kw := range discrepancyKeywords {
		if seen[kw.dtype] {
			continue
		}
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), kw.keyword) {
				seen[kw.dtype] = true
				out = append(out, kw.dtype)
				break
			}
		}
	}
	return out
}

func sortedFieldNames(inv *model.Invoice) []string {
	fields := make([]string, 0, len(inv.Fields))
	for f := range inv.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// summarize renders the recall audit line. Downstream consumers check
// for the literal phrase "vendor memories" to tell whether vendor memory
// influenced the run, so the segment only appears when something was
// recalled.
func summarize(vendor []model.VendorMemory, corrections []model.CorrectionMemory, resolutions []model.ResolutionMemory) string {
	var parts []string
	if len(vendor) > 0 {
		top := vendor[0]
		parts = append(parts, fmt.Sprintf("%d vendor memories (top: %q -> %s, confidence %.2f)",
			len(vendor), top.OriginalLabel, top.FieldName, top.Confidence))
	}
	if len(corrections) > 0 {
		top := corrections[0]
		parts = append(parts, fmt.Sprintf("%d correction memories (top field: %s, confidence %.2f)",
			len(corrections), top.FieldName, top.Confidence))
	}
	if len(resolutions) > 0 {
		top := resolutions[0]
		parts = append(parts, fmt.Sprintf("%d resolution memories (top: %s, %.0f%% approved)",
			len(resolutions), top.DiscrepancyType, top.ApprovalRate()*100))
	}
	if len(parts) == 0 {
		return "no relevant memories found"
	}
	return "Recalled " + strings.Join(parts, ", ")
}
