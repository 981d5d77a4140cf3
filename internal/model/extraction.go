package model

import "time"

// DocumentType is the closed set of document classifications the
// extraction model may return.
type DocumentType string

const (
	DocTypeReceipt       DocumentType = "receipt"
	DocTypeInvoice       DocumentType = "invoice"
	DocTypeBill          DocumentType = "bill"
	DocTypePurchaseOrder DocumentType = "purchase_order"
	DocTypeCreditNote    DocumentType = "credit_note"
	DocTypeOther         DocumentType = "other"
)

// LineItem is a single line on a receipt or invoice.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Total       float64 `json:"total"`
	Tax         float64 `json:"tax"`
}

// ExtractedData holds the structured result of running the pipeline on a
// document. At most one row exists per document (unique on DocumentID).
// IsUserEdited flips to true only on the explicit human-edit path; the
// automated pipeline overwrites machine fields without touching it.
type ExtractedData struct {
	ID              string       `json:"id"`
	DocumentID      string       `json:"document_id"`
	VendorName      string       `json:"vendor_name,omitempty"`
	VendorAddress   string       `json:"vendor_address,omitempty"`
	DocumentDate    *time.Time   `json:"document_date,omitempty"`
	DocumentType    DocumentType `json:"document_type,omitempty"`
	DocumentNumber  string       `json:"document_number,omitempty"`
	TotalAmount     *float64     `json:"total_amount,omitempty"`
	TotalTax        *float64     `json:"total_tax,omitempty"`
	Currency        string       `json:"currency"`
	LineItems       []LineItem   `json:"line_items,omitempty"`
	RawOCRText      string       `json:"raw_ocr_text,omitempty"`
	ConfidenceScore float64      `json:"confidence_score"`
	ExtractionModel string       `json:"extraction_model,omitempty"`
	IsUserEdited    bool         `json:"is_user_edited"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
