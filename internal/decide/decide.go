// Package decide aggregates extraction confidence, memory confidence,
// duplicate signals and detected patterns into a single human-review
// verdict with a full reasoning trace.
package decide

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-memory/internal/apply"
	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/store"
)

// minExtractionConfidence is the per-field extraction floor; weaker
// fields always go to a human.
const minExtractionConfidence = 0.6

// unmatchedEpsilon keeps fields without a memory match just below the
// suggestion threshold so they can never alone justify auto-accept.
const unmatchedEpsilon = 0.01

// Decision is the outcome of the decide stage.
type Decision struct {
	RequiresHumanReview bool     `json:"requires_human_review"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	FlaggedFields       []string `json:"flagged_fields,omitempty"`
	DuplicateIDs        []string `json:"duplicate_ids,omitempty"`
	Audit               model.AuditEntry
}

// Decider performs the decide stage.
type Decider struct {
	store           store.Store
	params          confidence.Params
	duplicateWindow time.Duration
}

// New creates a Decider with the given duplicate-detection window.
func New(st store.Store, params confidence.Params, duplicateWindow time.Duration) *Decider {
	return &Decider{store: st, params: params, duplicateWindow: duplicateWindow}
}

// Decide evaluates all review signals in a fixed order. Each signal can
// independently force human review and contributes a reasoning fragment;
// the leading summary sentence is prepended last.
func (d *Decider) Decide(ctx context.Context, inv *model.Invoice, applied *apply.Result) (*Decision, error) {
	dec := &Decision{}
	var fragments []string
	flagged := make(map[string]bool)

	flag := func(field, why string) {
		dec.RequiresHumanReview = true
		fragments = append(fragments, why)
		if field != "" && !flagged[field] {
			flagged[field] = true
			dec.FlaggedFields = append(dec.FlaggedFields, field)
		}
	}

	// 1. Duplicate check against the processed-invoice index.
	dupes, err := d.store.FindDuplicates(ctx, store.DuplicateQuery{
		VendorKey:     confidence.NormalizeVendorKey(inv.VendorName),
		InvoiceNumber: inv.InvoiceNumber,
		Date:          inv.InvoiceDate,
		Window:        d.duplicateWindow,
		ExcludeID:     inv.ID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "decide: duplicate check")
	}
	if len(dupes) > 0 {
		dec.DuplicateIDs = dupes
		flag("", fmt.Sprintf("possible duplicate of invoice(s) %s (same vendor and number within %d days)",
			strings.Join(dupes, ", "), int(d.duplicateWindow.Hours()/24)))
	}

	traceByField := bestTracePerField(applied.Applied)
	fields := sortedFieldNames(inv)

	// 2. Weak extraction confidence.
	for _, f := range fields {
		if fv := inv.Fields[f]; fv.Confidence < minExtractionConfidence {
			flag(f, fmt.Sprintf("field %s extraction confidence %.2f below %.2f", f, fv.Confidence, minExtractionConfidence))
		}
	}

	// 3. Fields no memory spoke for.
	for _, f := range fields {
		if _, ok := traceByField[f]; !ok {
			flag(f, fmt.Sprintf("no memory match for field %s", f))
		}
	}

	// 4. Memory-confidence sweep.
	highConfidence := make(map[string]bool)
	for _, a := range applied.Applied {
		switch {
		case a.Confidence >= d.params.AutoApplyThreshold:
			highConfidence[a.FieldName] = true
		case a.Confidence < d.params.SuggestThreshold:
			flag(a.FieldName, fmt.Sprintf("memory for field %s has low confidence %.2f", a.FieldName, a.Confidence))
		}
	}

	// 5. Pending corrections always go to a human.
	if n := len(applied.Corrections); n > 0 {
		flag("", fmt.Sprintf("%d correction(s) proposed", n))
	}

	// 6. Detected patterns contribute their suggested actions;
	// tax-inclusive pricing always forces review.
	for _, p := range applied.Patterns {
		if p.SuggestedAction != "" {
			fragments = append(fragments, p.SuggestedAction)
		}
		if p.Type == apply.PatternTaxInclusive {
			dec.RequiresHumanReview = true
		}
	}

	dec.Confidence = d.overallConfidence(inv, traceByField)

	allHigh := len(fields) > 0
	for _, f := range fields {
		if !highConfidence[f] {
			allHigh = false
			break
		}
	}
	switch {
	case !dec.RequiresHumanReview && allHigh:
		fragments = append([]string{"All fields verified by high-confidence memory; recommend auto-accept."}, fragments...)
	case dec.RequiresHumanReview:
		fragments = append([]string{"Human review required."}, fragments...)
	}
	dec.Reasoning = strings.Join(fragments, " ")

	dec.Audit = model.AuditEntry{
		InvoiceID: inv.ID,
		Step:      model.StepDecide,
		Timestamp: time.Now().UTC(),
		Details: fmt.Sprintf("requires_review=%t confidence=%.2f flagged_fields=%d duplicates=%d",
			dec.RequiresHumanReview, dec.Confidence, len(dec.FlaggedFields), len(dec.DuplicateIDs)),
	}

	zap.L().Debug("decide: complete",
		zap.String("invoice_id", inv.ID),
		zap.Bool("requires_review", dec.RequiresHumanReview),
		zap.Float64("confidence", dec.Confidence),
	)
	return dec, nil
}

// overallConfidence averages per-field confidence across the invoice.
// Fields backed by a memory combine memory and extraction confidence;
// unmatched fields are capped just below the suggestion threshold.
func (d *Decider) overallConfidence(inv *model.Invoice, traceByField map[string]apply.AppliedMemory) float64 {
	if len(inv.Fields) == 0 {
		return 0
	}
	var sum float64
	for name, fv := range inv.Fields {
		ext := fv.Confidence
		if ext > 1 {
			ext = 1
		}
		if trace, ok := traceByField[name]; ok {
			sum += trace.Confidence * ext
		} else {
			ceiling := d.params.SuggestThreshold - unmatchedEpsilon
			if ext < ceiling {
				sum += ext
			} else {
				sum += ceiling
			}
		}
	}
	c := sum / float64(len(inv.Fields))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// bestTracePerField keeps the highest-confidence trace for each field.
func bestTracePerField(applied []apply.AppliedMemory) map[string]apply.AppliedMemory {
	out := make(map[string]apply.AppliedMemory, len(applied))
	for _, a := range applied {
		if cur, ok := out[a.FieldName]; !ok || a.Confidence > cur.Confidence {
			out[a.FieldName] = a
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
