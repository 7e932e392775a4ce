package model

import "time"

// AuditStep names the pipeline stage that produced an audit entry.
type AuditStep string

const (
	StepRecall AuditStep = "recall"
	StepApply  AuditStep = "apply"
	StepDecide AuditStep = "decide"
	StepLearn  AuditStep = "learn"
)

// AuditEntry is one append-only record of what a stage did for an invoice.
type AuditEntry struct {
	InvoiceID string    `json:"invoice_id"`
	Step      AuditStep `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// ProcessingResult is the externally visible outcome of one pipeline run.
type ProcessingResult struct {
	InvoiceID           string            `json:"invoice_id"`
	NormalizedFields    map[string]string `json:"normalized_fields"`
	ProposedCorrections []string          `json:"proposed_corrections,omitempty"`
	RequiresHumanReview bool              `json:"requires_human_review"`
	Reasoning           string            `json:"reasoning"`
	Confidence          float64           `json:"confidence"`
	MemoryUpdates       []string          `json:"memory_updates,omitempty"`
	AuditTrail          []AuditEntry      `json:"audit_trail"`
}
