// Package learn consumes human feedback on a processed invoice and
// updates the memories that contributed to the decision, or creates new
// ones from corrections.
package learn

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/store"
)

// Result reports what one feedback event did to the memory base.
type Result struct {
	Created     []string `json:"created,omitempty"`
	Updated     []string `json:"updated,omitempty"`
	Deactivated []string `json:"deactivated,omitempty"`
	Audit       model.AuditEntry
}

// Summaries renders the memory-update description strings exposed on
// the processing result.
func (r *Result) Summaries() []string {
	out := make([]string, 0, len(r.Created)+len(r.Updated)+len(r.Deactivated))
	out = append(out, r.Created...)
	out = append(out, r.Updated...)
	out = append(out, r.Deactivated...)
	return out
}

// Learner performs the learn stage.
type Learner struct {
	store  store.Store
	params confidence.Params
}

// New creates a Learner.
func New(st store.Store, params confidence.Params) *Learner {
	return &Learner{store: st, params: params}
}

// Learn applies one human-feedback event. contributing is the set of
// memories registered after the Apply pass for the same invoice;
// the caller clears that registration once Learn returns.
// A "correct" action with no corrections is a no-op pass that still
// produces an audit entry.
func (l *Learner) Learn(ctx context.Context, fb *model.HumanFeedback, inv *model.Invoice, contributing []model.ContributingMemory) (*Result, error) {
	res := &Result{}

	switch fb.Action {
	case model.FeedbackApprove:
		for _, c := range contributing {
			if err := l.reinforce(ctx, c, res); err != nil {
				return nil, err
			}
		}
	case model.FeedbackReject:
		for _, c := range contributing {
			if err := l.penalize(ctx, c, res); err != nil {
				return nil, err
			}
		}
	case model.FeedbackCorrect:
		for _, fc := range fb.Corrections {
			if err := l.correct(ctx, fc, inv, contributing, res); err != nil {
				return nil, err
			}
		}
	default:
		return nil, eris.Errorf("learn: unknown feedback action %q", fb.Action)
	}

	res.Audit = model.AuditEntry{
		InvoiceID: fb.InvoiceID,
		Step:      model.StepLearn,
		Timestamp: time.Now().UTC(),
		Details: fmt.Sprintf("Feedback %s: %d created, %d updated, %d deactivated",
			fb.Action, len(res.Created), len(res.Updated), len(res.Deactivated)),
	}

	zap.L().Info("learn: feedback processed",
		zap.String("invoice_id", fb.InvoiceID),
		zap.String("action", string(fb.Action)),
		zap.Int("created", len(res.Created)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("deactivated", len(res.Deactivated)),
	)
	return res, nil
}

// reinforce rewards a contributing memory after approval.
func (l *Learner) reinforce(ctx context.Context, c model.ContributingMemory, res *Result) error {
	meta, err := l.meta(ctx, c)
	if err != nil || meta == nil {
		return err
	}
	newConf := l.params.Reinforce(meta.Confidence)
	if err := l.update(ctx, c, store.MemoryUpdate{
		Confidence:            &newConf,
		ConsecutiveRejections: intPtr(0),
		ApplicationCount:      intPtr(meta.ApplicationCount + 1),
		LastUsedAt:            nowPtr(),
	}); err != nil {
		return err
	}
	res.Updated = append(res.Updated,
		fmt.Sprintf("reinforced %s memory for %s: %.2f -> %.2f", c.Kind, c.FieldName, meta.Confidence, newConf))
	return nil
}

// penalize punishes a contributing memory after rejection, deactivating
// it once consecutive rejections reach the configured limit.
func (l *Learner) penalize(ctx context.Context, c model.ContributingMemory, res *Result) error {
	meta, err := l.meta(ctx, c)
	if err != nil || meta == nil {
		return err
	}
	newConf := l.params.Penalize(meta.Confidence)
	rejections := meta.ConsecutiveRejections + 1
	upd := store.MemoryUpdate{
		Confidence:            &newConf,
		ConsecutiveRejections: &rejections,
		LastUsedAt:            nowPtr(),
	}
	if rejections >= l.params.DeactivationLimit {
		upd.Active = boolPtr(false)
		if err := l.update(ctx, c, upd); err != nil {
			return err
		}
		res.Deactivated = append(res.Deactivated,
			fmt.Sprintf("deactivated %s memory for %s after %d consecutive rejections", c.Kind, c.FieldName, rejections))
		return nil
	}
	if err := l.update(ctx, c, upd); err != nil {
		return err
	}
	res.Updated = append(res.Updated,
		fmt.Sprintf("penalized %s memory for %s: %.2f -> %.2f", c.Kind, c.FieldName, meta.Confidence, newConf))
	return nil
}

// correct handles one corrected field. A correction matching what the
// contributing memory suggested confirms it; a differing one applies
// the contradiction penalty and then records the new knowledge.
func (l *Learner) correct(ctx context.Context, fc model.FieldCorrection, inv *model.Invoice, contributing []model.ContributingMemory, res *Result) error {
	if c, ok := contributorFor(contributing, fc.FieldName); ok {
		suggested, err := l.suggestedValue(ctx, c)
		if err != nil {
			return err
		}
		if suggested != "" && suggested == fc.CorrectedValue {
			// The human typed exactly what the memory suggested.
			return l.reinforce(ctx, c, res)
		}
		meta, err := l.meta(ctx, c)
		if err != nil {
			return err
		}
		if meta != nil {
			newConf := l.params.Contradict(meta.Confidence)
			if err := l.update(ctx, c, store.MemoryUpdate{Confidence: &newConf, LastUsedAt: nowPtr()}); err != nil {
				return err
			}
			res.Updated = append(res.Updated,
				fmt.Sprintf("contradicted %s memory for %s: %.2f -> %.2f", c.Kind, c.FieldName, meta.Confidence, newConf))
		}
	}
	return l.createFromCorrection(ctx, fc, inv, res)
}

// createFromCorrection records the corrected value as new memory. A
// field whose original document label differs from its normalized name
// is a field-mapping discovery and becomes (or reinforces) a vendor
// memory; anything else always becomes a fresh correction memory.
func (l *Learner) createFromCorrection(ctx context.Context, fc model.FieldCorrection, inv *model.Invoice, res *Result) error {
	vendorKey := confidence.NormalizeVendorKey(inv.VendorName)
	label := inv.Fields[fc.FieldName].OriginalLabel

	if label != "" && label != fc.FieldName {
		existing, err := l.store.FindVendorMemoryByLabel(ctx, vendorKey, label, fc.FieldName)
		if err != nil {
			return eris.Wrap(err, "learn: find vendor memory by label")
		}
		if existing != nil {
			return l.reinforce(ctx, model.ContributingMemory{
				MemoryID: existing.ID, Kind: model.KindVendor, FieldName: fc.FieldName,
			}, res)
		}
		m := &model.VendorMemory{
			MemoryMeta:    model.MemoryMeta{Confidence: l.params.InitialConfidence},
			VendorKey:     vendorKey,
			VendorName:    inv.VendorName,
			OriginalLabel: label,
			FieldName:     fc.FieldName,
		}
		if err := l.store.CreateVendorMemory(ctx, m); err != nil {
			return eris.Wrap(err, "learn: create vendor memory")
		}
		res.Created = append(res.Created,
			fmt.Sprintf("learned vendor mapping %q -> %s at confidence %.2f", label, fc.FieldName, m.Confidence))
		return nil
	}

	m := &model.CorrectionMemory{
		MemoryMeta:      model.MemoryMeta{Confidence: l.params.InitialConfidence},
		VendorKey:       vendorKey,
		FieldName:       fc.FieldName,
		OriginalPattern: fc.OriginalValue,
		CorrectedValue:  fc.CorrectedValue,
	}
	if err := l.store.CreateCorrectionMemory(ctx, m); err != nil {
		return eris.Wrap(err, "learn: create correction memory")
	}
	res.Created = append(res.Created,
		fmt.Sprintf("learned correction for %s: %q -> %q at confidence %.2f",
			fc.FieldName, fc.OriginalValue, fc.CorrectedValue, m.Confidence))
	return nil
}

// suggestedValue is what the contributing memory told the apply stage;
// for correction memories it falls back to the stored corrected value.
func (l *Learner) suggestedValue(ctx context.Context, c model.ContributingMemory) (string, error) {
	if c.Value != "" {
		return c.Value, nil
	}
	if c.Kind == model.KindCorrection {
		m, err := l.store.GetCorrectionMemory(ctx, c.MemoryID)
		if err != nil {
			return "", eris.Wrap(err, "learn: get correction memory")
		}
		if m != nil {
			return m.CorrectedValue, nil
		}
	}
	return "", nil
}

func (l *Learner) meta(ctx context.Context, c model.ContributingMemory) (*model.MemoryMeta, error) {
	switch c.Kind {
	case model.KindVendor:
		m, err := l.store.GetVendorMemory(ctx, c.MemoryID)
		if err != nil {
			return nil, eris.Wrap(err, "learn: get vendor memory")
		}
		if m == nil {
			return nil, nil
		}
		return &m.MemoryMeta, nil
	case model.KindCorrection:
		m, err := l.store.GetCorrectionMemory(ctx, c.MemoryID)
		if err != nil {
			return nil, eris.Wrap(err, "learn: get correction memory")
		}
		if m == nil {
			return nil, nil
		}
		return &m.MemoryMeta, nil
	}
	return nil, nil
}

func (l *Learner) update(ctx context.Context, c model.ContributingMemory, upd store.MemoryUpdate) error {
	switch c.Kind {
	case model.KindVendor:
		return eris.Wrap(l.store.UpdateVendorMemory(ctx, c.MemoryID, upd), "learn: update vendor memory")
	case model.KindCorrection:
		return eris.Wrap(l.store.UpdateCorrectionMemory(ctx, c.MemoryID, upd), "learn: update correction memory")
	}
	return nil
}

func contributorFor(contributing []model.ContributingMemory, field string) (model.ContributingMemory, bool) {
	for _, c := range contributing {
		if c.FieldName == field {
			return c, true
		}
	}
	return model.ContributingMemory{}, false
}

func intPtr(v int) *int          { return &v }
func boolPtr(v bool) *bool       { return &v }
func nowPtr() *time.Time         { t := time.Now().UTC(); return &t }
