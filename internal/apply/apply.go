// Package apply uses recalled memories to normalize invoice fields,
// propose corrections, and detect document-level patterns.
package apply

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/extract"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/recall"
)

// AppliedMemory is the trace entry recorded for every memory the stage
// touched, whether it was applied, suggested, or only flagged.
type AppliedMemory struct {
	MemoryID   string            `json:"memory_id"`
	Kind       model.MemoryKind  `json:"kind"`
	FieldName  string            `json:"field_name"`
	Action     confidence.Action `json:"action"`
	Confidence float64           `json:"confidence"`
	Value      string            `json:"value,omitempty"`
}

// ProposedCorrection is a suggested field change awaiting human review.
type ProposedCorrection struct {
	FieldName      string  `json:"field_name"`
	CurrentValue   string  `json:"current_value"`
	SuggestedValue string  `json:"suggested_value"`
	MemoryID       string  `json:"memory_id,omitempty"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// String renders the correction as the single line exposed on the
// processing result.
func (pc ProposedCorrection) String() string {
	cur := pc.CurrentValue
	if cur == "" {
		cur = "(empty)"
	}
	return fmt.Sprintf("%s: %s -> %q (confidence %.2f): %s",
		pc.FieldName, cur, pc.SuggestedValue, pc.Confidence, pc.Reasoning)
}

// Result is the output of one apply pass.
type Result struct {
	Normalized  map[string]model.FieldValue
	Applied     []AppliedMemory
	Corrections []ProposedCorrection
	Patterns    []Pattern
	Audit       model.AuditEntry
}

// Contributing returns the contributing-memory records to register for
// the later learn call.
func (r *Result) Contributing() []model.ContributingMemory {
	out := make([]model.ContributingMemory, 0, len(r.Applied))
	for _, a := range r.Applied {
		out = append(out, model.ContributingMemory{
			MemoryID:  a.MemoryID,
			Kind:      a.Kind,
			FieldName: a.FieldName,
			Value:     a.Value,
		})
	}
	return out
}

// Applier performs the apply stage.
type Applier struct {
	extractor extract.Extractor
	params    confidence.Params
}

// New creates an Applier. If extractor is nil, the built-in label
// extractor is used.
func New(extractor extract.Extractor, params confidence.Params) *Applier {
	if extractor == nil {
		extractor = extract.NewLabelExtractor()
	}
	return &Applier{extractor: extractor, params: params}
}

// Apply normalizes the invoice using the recalled memories, then runs
// pattern detection over the raw text. Routine absence of data (failed
// extraction, no matching memory) never yields an error.
func (a *Applier) Apply(ctx context.Context, inv *model.Invoice, recalled *recall.Result) (*Result, error) {
	res := &Result{Normalized: make(map[string]model.FieldValue, len(inv.Fields))}
	for k, v := range inv.Fields {
		res.Normalized[k] = v
	}

	a.applyVendorMemories(inv, recalled.VendorMemories, res)
	a.applyCorrectionMemories(recalled.CorrectionMemories, res)
	a.detectPatterns(inv, res)

	res.Audit = model.AuditEntry{
		InvoiceID: inv.ID,
		Step:      model.StepApply,
		Timestamp: time.Now().UTC(),
		Details:   a.summarize(res),
	}

	zap.L().Debug("apply: complete",
		zap.String("invoice_id", inv.ID),
		zap.Int("applied_memories", len(res.Applied)),
		zap.Int("proposed_corrections", len(res.Corrections)),
		zap.Int("patterns", len(res.Patterns)),
	)
	return res, nil
}

// applyVendorMemories fills empty fields by extracting values from raw
// text using each memory's learned label. High-confidence extractions
// are written directly; lower confidence only proposes.
func (a *Applier) applyVendorMemories(inv *model.Invoice, mems []model.VendorMemory, res *Result) {
	for _, m := range mems {
		action := a.params.ThresholdAction(m.Confidence)
		trace := AppliedMemory{
			MemoryID:   m.ID,
			Kind:       model.KindVendor,
			FieldName:  m.FieldName,
			Action:     action,
			Confidence: m.Confidence,
		}

		current, exists := res.Normalized[m.FieldName]
		if !exists || current.Value == "" {
			if value, ok := a.extractor.Extract(m.OriginalLabel, inv.RawText); ok {
				trace.Value = value
				switch action {
				case confidence.ActionAutoApplied:
					fv := model.FieldValue{Value: value, Confidence: 1, OriginalLabel: m.OriginalLabel}
					if exists {
						fv.Confidence = current.Confidence
					}
					res.Normalized[m.FieldName] = fv
				default:
					reason := fmt.Sprintf("learned mapping %q -> %s for this vendor", m.OriginalLabel, m.FieldName)
					if action == confidence.ActionFlagged {
						reason = "[LOW CONFIDENCE] " + reason
					}
					res.Corrections = append(res.Corrections, ProposedCorrection{
						FieldName:      m.FieldName,
						CurrentValue:   current.Value,
						SuggestedValue: value,
						MemoryID:       m.ID,
						Confidence:     m.Confidence,
						Reasoning:      reason,
					})
				}
			}
		}
		res.Applied = append(res.Applied, trace)
	}
}

// applyCorrectionMemories overwrites or proposes the learned fix per
// field. Flagged memories are traced without proposing anything.
func (a *Applier) applyCorrectionMemories(mems []model.CorrectionMemory, res *Result) {
	for _, m := range mems {
		action := a.params.ThresholdAction(m.Confidence)
		current := res.Normalized[m.FieldName]

		switch action {
		case confidence.ActionAutoApplied:
			fv := current
			fv.Value = m.CorrectedValue
			res.Normalized[m.FieldName] = fv
		case confidence.ActionSuggested:
			res.Corrections = append(res.Corrections, ProposedCorrection{
				FieldName:      m.FieldName,
				CurrentValue:   current.Value,
				SuggestedValue: m.CorrectedValue,
				MemoryID:       m.ID,
				Confidence:     m.Confidence,
				Reasoning:      fmt.Sprintf("previous human correction for %s", m.FieldName),
			})
		}

		res.Applied = append(res.Applied, AppliedMemory{
			MemoryID:   m.ID,
			Kind:       model.KindCorrection,
			FieldName:  m.FieldName,
			Action:     action,
			Confidence: m.Confidence,
			Value:      m.CorrectedValue,
		})
	}
}

func (a *Applier) summarize(res *Result) string {
	types := make(map[string]bool, len(res.Patterns))
	for _, p := range res.Patterns {
		types[p.Type] = true
	}
	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, t)
	}
	sort.Strings(names)

	s := fmt.Sprintf("Applied %d memories, proposed %d corrections", len(res.Applied), len(res.Corrections))
	if len(names) > 0 {
		s += ", detected patterns: " + strings.Join(names, ", ")
	}
	return s
}
