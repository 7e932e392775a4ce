package model

import "time"

// FieldValue is one extracted field on an invoice: the raw value, the
// extraction confidence reported by the upstream extractor, and the
// original document label the value was read from (if known).
type FieldValue struct {
	Value         string  `json:"value" yaml:"value"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
	OriginalLabel string  `json:"original_label,omitempty" yaml:"original_label,omitempty"`
}

// LineItem is one invoice or purchase-order line.
type LineItem struct {
	Code        string  `json:"code" yaml:"code"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	UnitPrice   float64 `json:"unit_price,omitempty" yaml:"unit_price,omitempty"`
}

// Invoice is the immutable input to one processing run. Fields maps
// normalized field names to their extracted values.
type Invoice struct {
	ID            string                `json:"id" yaml:"id"`
	VendorName    string                `json:"vendor_name" yaml:"vendor_name"`
	InvoiceNumber string                `json:"invoice_number" yaml:"invoice_number"`
	InvoiceDate   time.Time             `json:"invoice_date" yaml:"invoice_date"`
	Fields        map[string]FieldValue `json:"fields" yaml:"fields"`
	LineItems     []LineItem            `json:"line_items,omitempty" yaml:"line_items,omitempty"`
	RawText       string                `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`
}

// PurchaseOrder is a known order the apply stage can match an invoice
// against when the invoice carries no PO number.
type PurchaseOrder struct {
	Number     string     `json:"number" yaml:"number"`
	VendorName string     `json:"vendor_name" yaml:"vendor_name"`
	OrderDate  time.Time  `json:"order_date" yaml:"order_date"`
	LineItems  []LineItem `json:"line_items,omitempty" yaml:"line_items,omitempty"`
}

// FeedbackAction is the kind of human feedback given on a processed invoice.
type FeedbackAction string

const (
	FeedbackApprove FeedbackAction = "approve"
	FeedbackReject  FeedbackAction = "reject"
	FeedbackCorrect FeedbackAction = "correct"
)

// FieldCorrection is one corrected field within a "correct" feedback event.
type FieldCorrection struct {
	FieldName      string `json:"field_name" yaml:"field_name"`
	OriginalValue  string `json:"original_value" yaml:"original_value"`
	CorrectedValue string `json:"corrected_value" yaml:"corrected_value"`
}

// HumanFeedback is the input to the learn stage.
type HumanFeedback struct {
	InvoiceID   string            `json:"invoice_id" yaml:"invoice_id"`
	Action      FeedbackAction    `json:"action" yaml:"action"`
	Corrections []FieldCorrection `json:"corrections,omitempty" yaml:"corrections,omitempty"`
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
}
