package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseRequest status constants. PENDING is the only state with outward transitions.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// PurchaseRequest is a procurement intent submitted by an actor and subject to approval.
type PurchaseRequest struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Title       string          `gorm:"type:varchar(255);not null" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency    string          `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	VendorName  string          `gorm:"type:varchar(255)" json:"vendor_name"`
	Status      string          `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CreatedBy   uuid.UUID       `gorm:"type:uuid;not null;index" json:"created_by"`
	Items       []RequestItem   `gorm:"foreignKey:PurchaseRequestID;constraint:OnDelete:CASCADE" json:"items"`
	ProformaRef string          `gorm:"type:text" json:"proforma_ref,omitempty"` // optional vendor quote file
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the request has left PENDING. Terminal requests accept no
// further decisions and no edits.
func (r *PurchaseRequest) IsTerminal() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// RequestItem is a line item owned by a PurchaseRequest. Position keeps the submitted order.
type RequestItem struct {
	ID                uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PurchaseRequestID uuid.UUID       `gorm:"type:uuid;not null;index" json:"-"`
	Position          int             `gorm:"type:int;not null;default:0" json:"position"`
	Description       string          `gorm:"type:varchar(255);not null" json:"description"`
	Quantity          int             `gorm:"type:int;not null;default:1" json:"quantity"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
}

func (i RequestItem) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
