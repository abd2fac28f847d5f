package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Receipt validation_result values
const (
	ValidationUnvalidated = "UNVALIDATED"
	ValidationMatched     = "MATCHED"
	ValidationMismatch    = "MISMATCH"
	ValidationNeedsReview = "NEEDS_REVIEW"
)

// ExtractedReceipt holds fields pulled out of a receipt file by the asynchronous validator.
type ExtractedReceipt struct {
	VendorName string              `json:"vendor_name,omitempty"`
	Total      decimal.NullDecimal `json:"total"`
	Currency   string              `json:"currency,omitempty"`
	Reference  string              `json:"reference,omitempty"`
}

// Receipt is proof of delivery or payment attached to an approved request.
type Receipt struct {
	ID                uuid.UUID                            `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PurchaseRequestID uuid.UUID                            `gorm:"type:uuid;not null;index" json:"purchase_request_id"`
	PurchaseRequest   *PurchaseRequest                     `gorm:"foreignKey:PurchaseRequestID;constraint:OnDelete:CASCADE" json:"-"`
	UploadedBy        uuid.UUID                            `gorm:"type:uuid;not null" json:"uploaded_by"`
	FileRef           string                               `gorm:"type:text;not null" json:"file_ref"`
	ExtractedData     datatypes.JSONType[ExtractedReceipt] `gorm:"type:jsonb" json:"extracted_data"`
	ValidationResult  string                               `gorm:"type:varchar(32);not null;default:'UNVALIDATED';index" json:"validation_result"`
	Notes             string                               `gorm:"type:text" json:"notes"`
	CreatedAt         time.Time                            `json:"created_at"`
	UpdatedAt         time.Time                            `json:"updated_at"`
}
