package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PurchaseOrderItem is a line copied from the request at issuance time.
type PurchaseOrderItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// PurchaseOrder is issued exactly once, when its purchase request reaches APPROVED.
type PurchaseOrder struct {
	ID                uuid.UUID                               `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PurchaseRequestID uuid.UUID                               `gorm:"type:uuid;not null;uniqueIndex" json:"purchase_request_id"`
	PurchaseRequest   *PurchaseRequest                        `gorm:"foreignKey:PurchaseRequestID;constraint:OnDelete:CASCADE" json:"-"`
	VendorName        string                                  `gorm:"type:varchar(255)" json:"vendor_name"`
	Items             datatypes.JSONType[[]PurchaseOrderItem] `gorm:"type:jsonb;not null" json:"items"`
	TotalAmount       decimal.Decimal                         `gorm:"type:decimal(12,2)" json:"total_amount"`
	Currency          string                                  `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	PONumber          string                                  `gorm:"column:po_number;type:varchar(64);uniqueIndex;not null" json:"po_number"`
	GeneratedAt       time.Time                               `gorm:"autoCreateTime" json:"generated_at"`
	DocumentRef       string                                  `gorm:"type:text" json:"document_ref,omitempty"` // set on first download
}

// LineItems returns a copy of the snapshot so callers cannot alter the stored order.
func (po *PurchaseOrder) LineItems() []PurchaseOrderItem {
	items := po.Items.Data()
	out := make([]PurchaseOrderItem, len(items))
	copy(out, items)
	return out
}
