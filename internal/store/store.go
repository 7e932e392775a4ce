package store

import (
	"context"
	"time"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
)

// MemoryUpdate is a sparse update for a vendor or correction memory.
// Only non-nil fields are written; confidence, counters, the active flag
// and the last-used timestamp are the only fields that ever change after
// creation.
type MemoryUpdate struct {
	Confidence            *float64
	ApplicationCount      *int
	ConsecutiveRejections *int
	Active                *bool
	LastUsedAt            *time.Time
}

// DuplicateQuery describes a lookup in the duplicate-detection index.
type DuplicateQuery struct {
	VendorKey     string
	InvoiceNumber string
	Date          time.Time
	Window        time.Duration
	ExcludeID     string
}

// Store defines the persistence interface for memories, audit records
// and the duplicate-detection index.
type Store interface {
	// Vendor memories
	ActiveVendorMemories(ctx context.Context, vendorKey string) ([]model.VendorMemory, error)
	GetVendorMemory(ctx context.Context, id string) (*model.VendorMemory, error)
	FindVendorMemoryByLabel(ctx context.Context, vendorKey, originalLabel, fieldName string) (*model.VendorMemory, error)
	CreateVendorMemory(ctx context.Context, m *model.VendorMemory) error
	UpdateVendorMemory(ctx context.Context, id string, upd MemoryUpdate) error
	ListVendorMemories(ctx context.Context, activeOnly bool) ([]model.VendorMemory, error)

	// Correction memories. CorrectionMemories returns the union of
	// vendor-scoped and global memories for the field, confidence-sorted.
	CorrectionMemories(ctx context.Context, vendorKey, fieldName string) ([]model.CorrectionMemory, error)
	GetCorrectionMemory(ctx context.Context, id string) (*model.CorrectionMemory, error)
	CreateCorrectionMemory(ctx context.Context, m *model.CorrectionMemory) error
	UpdateCorrectionMemory(ctx context.Context, id string, upd MemoryUpdate) error
	ListCorrectionMemories(ctx context.Context, activeOnly bool) ([]model.CorrectionMemory, error)

	// Resolution memories (read-mostly; the learn stage never writes them)
	ResolutionMemories(ctx context.Context, discrepancyType string) ([]model.ResolutionMemory, error)
	CreateResolutionMemory(ctx context.Context, m *model.ResolutionMemory) error
	UpdateResolutionMemory(ctx context.Context, id string, approvals, rejections int) error

	// Audit log
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	AuditTrail(ctx context.Context, invoiceID string) ([]model.AuditEntry, error)

	// Duplicate-detection index
	FindDuplicates(ctx context.Context, q DuplicateQuery) ([]string, error)
	RecordProcessed(ctx context.Context, inv *model.Invoice) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// vendorKeyOf derives the canonical vendor key for an invoice.
func vendorKeyOf(inv *model.Invoice) string {
	return confidence.NormalizeVendorKey(inv.VendorName)
}
