// Package pipeline orchestrates the four processing stages and owns the
// short-lived registry linking a processed invoice to the memories that
// contributed to its result.
package pipeline

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-memory/internal/apply"
	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/decide"
	"github.com/sells-group/invoice-memory/internal/learn"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/recall"
	"github.com/sells-group/invoice-memory/internal/store"
)

// Options tunes the pipeline around the shared confidence parameters.
type Options struct {
	// DuplicateWindow bounds the duplicate-detection lookback.
	DuplicateWindow time.Duration

	// POPatternThreshold is the minimum match score for reporting a
	// purchase-order match as a detected pattern.
	POPatternThreshold float64

	// POSuggestThreshold is the minimum match score for proposing the
	// matched order number as a correction.
	POSuggestThreshold float64

	// RegistryTTL is how long contributing-memory registrations survive
	// while waiting for human feedback.
	RegistryTTL time.Duration
}

// DefaultOptions returns the standard pipeline settings.
func DefaultOptions() Options {
	return Options{
		DuplicateWindow:    7 * 24 * time.Hour,
		POPatternThreshold: 0.5,
		POSuggestThreshold: 0.7,
		RegistryTTL:        24 * time.Hour,
	}
}

// registration is the per-invoice state held between Process and Feedback.
type registration struct {
	Invoice      *model.Invoice
	Contributing []model.ContributingMemory
}

// Pipeline wires the recall, apply, decide and learn stages over one store.
type Pipeline struct {
	store    store.Store
	params   confidence.Params
	opts     Options
	recaller *recall.Recaller
	applier  *apply.Applier
	decider  *decide.Decider
	learner  *learn.Learner
	registry *gocache.Cache
}

// New builds a Pipeline over the given store.
func New(st store.Store, params confidence.Params, opts Options) *Pipeline {
	return &Pipeline{
		store:    st,
		params:   params,
		opts:     opts,
		recaller: recall.New(st, params),
		applier:  apply.New(nil, params),
		decider:  decide.New(st, params, opts.DuplicateWindow),
		learner:  learn.New(st, params),
		registry: gocache.New(opts.RegistryTTL, opts.RegistryTTL/2),
	}
}

// Process runs one invoice through recall, apply and decide. Each stage's
// audit entry is persisted as soon as the stage finishes, so a failure
// mid-pipeline leaves a truthful partial trail. The invoice is indexed
// for duplicate detection regardless of the verdict.
func (p *Pipeline) Process(ctx context.Context, inv *model.Invoice, orders []model.PurchaseOrder) (*model.ProcessingResult, error) {
	recalled, err := p.recaller.Recall(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := p.store.AppendAudit(ctx, recalled.Audit); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist recall audit")
	}

	applied, err := p.applier.Apply(ctx, inv, recalled)
	if err != nil {
		return nil, err
	}
	p.matchPurchaseOrder(inv, orders, applied)
	if err := p.store.AppendAudit(ctx, applied.Audit); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist apply audit")
	}

	p.registry.Set(inv.ID, &registration{Invoice: inv, Contributing: applied.Contributing()}, gocache.DefaultExpiration)

	decision, err := p.decider.Decide(ctx, inv, applied)
	if err != nil {
		return nil, err
	}
	if err := p.store.AppendAudit(ctx, decision.Audit); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist decide audit")
	}

	if err := p.store.RecordProcessed(ctx, inv); err != nil {
		return nil, eris.Wrap(err, "pipeline: record processed invoice")
	}

	res := &model.ProcessingResult{
		InvoiceID:           inv.ID,
		NormalizedFields:    flatten(applied.Normalized),
		RequiresHumanReview: decision.RequiresHumanReview,
		Reasoning:           decision.Reasoning,
		Confidence:          decision.Confidence,
		AuditTrail:          []model.AuditEntry{recalled.Audit, applied.Audit, decision.Audit},
	}
	for _, c := range applied.Corrections {
		res.ProposedCorrections = append(res.ProposedCorrections, c.String())
	}

	zap.L().Info("pipeline: invoice processed",
		zap.String("invoice_id", inv.ID),
		zap.Bool("requires_review", res.RequiresHumanReview),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}

// Feedback runs the learn stage for one feedback event. The contributing
// memories come from the in-process registry populated by Process; inv is
// a fallback for feedback arriving after the registration expired, in
// which case learning proceeds with no contributors and corrections still
// create new memories.
func (p *Pipeline) Feedback(ctx context.Context, fb *model.HumanFeedback, inv *model.Invoice) (*learn.Result, error) {
	var contributing []model.ContributingMemory
	if v, ok := p.registry.Get(fb.InvoiceID); ok {
		reg := v.(*registration)
		contributing = reg.Contributing
		if inv == nil {
			inv = reg.Invoice
		}
	}
	if inv == nil {
		return nil, eris.Errorf("pipeline: no processing record for invoice %s; supply the invoice", fb.InvoiceID)
	}

	res, err := p.learner.Learn(ctx, fb, inv, contributing)
	if err != nil {
		return nil, err
	}
	if err := p.store.AppendAudit(ctx, res.Audit); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist learn audit")
	}
	if err := p.recordResolutionOutcome(ctx, fb, inv); err != nil {
		return nil, err
	}

	p.registry.Delete(fb.InvoiceID)
	return res, nil
}

// matchPurchaseOrder runs order matching only when the invoice carries no
// PO number after the apply pass. A strong match proposes the order
// number; a moderate one is only reported as a pattern.
func (p *Pipeline) matchPurchaseOrder(inv *model.Invoice, orders []model.PurchaseOrder, applied *apply.Result) {
	if len(orders) == 0 || applied.Normalized["poNumber"].Value != "" {
		return
	}
	vendorKey := confidence.NormalizeVendorKey(inv.VendorName)
	match := apply.MatchPurchaseOrder(vendorKey, inv.InvoiceDate, inv.LineItems, orders)
	if match == nil || match.Confidence < p.opts.POPatternThreshold {
		return
	}

	applied.Patterns = append(applied.Patterns, apply.Pattern{
		Type:      apply.PatternPOMatch,
		Details:   fmt.Sprintf("matched purchase order %s with confidence %.2f", match.Order.Number, match.Confidence),
		FieldName: "poNumber",
		SuggestedAction: fmt.Sprintf("Link invoice to purchase order %s (match confidence %.2f)",
			match.Order.Number, match.Confidence),
	})
	if match.Confidence >= p.opts.POSuggestThreshold {
		applied.Corrections = append(applied.Corrections, apply.ProposedCorrection{
			FieldName:      "poNumber",
			SuggestedValue: match.Order.Number,
			Confidence:     match.Confidence,
			Reasoning:      fmt.Sprintf("purchase order matched on %d signal(s)", len(match.Reasons)),
		})
	}
}

// recordResolutionOutcome folds an approve or reject verdict into the
// resolution statistics for each discrepancy type the invoice exhibits.
// Corrections carry no approve/reject signal and record nothing.
func (p *Pipeline) recordResolutionOutcome(ctx context.Context, fb *model.HumanFeedback, inv *model.Invoice) error {
	var approvals, rejections int
	switch fb.Action {
	case model.FeedbackApprove:
		approvals = 1
	case model.FeedbackReject:
		rejections = 1
	default:
		return nil
	}

	for _, dtype := range recall.DiscrepancyTypes(inv) {
		existing, err := p.store.ResolutionMemories(ctx, dtype)
		if err != nil {
			return eris.Wrapf(err, "pipeline: resolution memories for %s", dtype)
		}
		if len(existing) > 0 {
			m := existing[0]
			if err := p.store.UpdateResolutionMemory(ctx, m.ID, m.ApprovalCount+approvals, m.RejectionCount+rejections); err != nil {
				return eris.Wrapf(err, "pipeline: update resolution memory %s", m.ID)
			}
			continue
		}
		if err := p.store.CreateResolutionMemory(ctx, &model.ResolutionMemory{
			DiscrepancyType: dtype,
			ApprovalCount:   approvals,
			RejectionCount:  rejections,
		}); err != nil {
			return eris.Wrapf(err, "pipeline: create resolution memory for %s", dtype)
		}
	}
	return nil
}

func flatten(fields map[string]model.FieldValue) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v.Value
	}
	return out
}
