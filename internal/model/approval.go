package model

import (
	"time"

	"github.com/google/uuid"
)

// Approval action constants
const (
	ApprovalActionApproved = "APPROVED"
	ApprovalActionRejected = "REJECTED"
)

// FinalApprovalLevel is the lowest level at which a single approval finalizes a request.
const FinalApprovalLevel = 2

// Approval is an append-only audit entry for one approve/reject decision at a given level.
// Rows are never updated or deleted except by cascade from the owning request.
type Approval struct {
	ID                uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PurchaseRequestID uuid.UUID        `gorm:"type:uuid;not null;index" json:"purchase_request_id"`
	PurchaseRequest   *PurchaseRequest `gorm:"foreignKey:PurchaseRequestID;constraint:OnDelete:CASCADE" json:"-"`
	ApproverID        uuid.UUID        `gorm:"type:uuid;not null;index" json:"approver_id"`
	Level             int              `gorm:"type:smallint;not null" json:"level"`
	Action            string           `gorm:"type:varchar(20);not null" json:"action"` // APPROVED, REJECTED
	Comment           string           `gorm:"type:text" json:"comment"`
	CreatedAt         time.Time        `gorm:"index" json:"created_at"`
}
