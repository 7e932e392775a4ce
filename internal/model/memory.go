package model

import "time"

// MemoryKind identifies which family a learned memory belongs to.
type MemoryKind string

const (
	// KindVendor is a learned field-label mapping for one vendor.
	KindVendor MemoryKind = "vendor"

	// KindCorrection is a learned value-level fix for a field.
	KindCorrection MemoryKind = "correction"
)

// MemoryMeta holds the confidence lifecycle state shared by vendor and
// correction memories. Reinforcement, penalty and deactivation operate on
// this embedded struct regardless of kind.
type MemoryMeta struct {
	ID                    string    `json:"id"`
	Confidence            float64   `json:"confidence"`
	ApplicationCount      int       `json:"application_count"`
	ConsecutiveRejections int       `json:"consecutive_rejections"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"created_at"`
	LastUsedAt            time.Time `json:"last_used_at"`
}

// VendorMemory maps a vendor's original field label to a normalized field
// name. Unique per (vendor key, original label); deactivated rather than
// deleted once consecutive rejections reach the configured limit.
type VendorMemory struct {
	MemoryMeta
	VendorKey     string `json:"vendor_key"`
	VendorName    string `json:"vendor_name"`
	OriginalLabel string `json:"original_label"`
	FieldName     string `json:"field_name"`
}

// CorrectionMemory records a value-level fix for a field. An empty
// VendorKey makes the memory global (applies to all vendors).
type CorrectionMemory struct {
	MemoryMeta
	VendorKey       string `json:"vendor_key,omitempty"`
	FieldName       string `json:"field_name"`
	OriginalPattern string `json:"original_pattern"`
	CorrectedValue  string `json:"corrected_value"`
}

// ResolutionMemory aggregates historical human outcomes for one class of
// discrepancy. Read-mostly: the learn stage does not mutate it.
type ResolutionMemory struct {
	ID              string    `json:"id"`
	DiscrepancyType string    `json:"discrepancy_type"`
	ApprovalCount   int       `json:"approval_count"`
	RejectionCount  int       `json:"rejection_count"`
	Context         string    `json:"context,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Outcomes returns the total number of recorded human outcomes.
func (r ResolutionMemory) Outcomes() int {
	return r.ApprovalCount + r.RejectionCount
}

// ApprovalRate returns the fraction of outcomes that were approvals,
// or 0 when no outcomes have been recorded.
func (r ResolutionMemory) ApprovalRate() float64 {
	n := r.Outcomes()
	if n == 0 {
		return 0
	}
	return float64(r.ApprovalCount) / float64(n)
}

// ContributingMemory records that a memory influenced the last processing
// pass for an invoice. Held only between Apply and the matching Learn
// call; never persisted.
type ContributingMemory struct {
	MemoryID  string     `json:"memory_id"`
	Kind      MemoryKind `json:"kind"`
	FieldName string     `json:"field_name"`
	Value     string     `json:"value"`
}
