package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRequest       = "CREATE_PURCHASE_REQUEST"
	ActionUpdateRequest       = "UPDATE_PURCHASE_REQUEST"
	ActionDeleteRequest       = "DELETE_PURCHASE_REQUEST"
	ActionAttachProforma      = "ATTACH_PROFORMA"
	ActionApproveRequest      = "APPROVE_REQUEST"
	ActionEscalateRequest     = "APPROVE_REQUEST_PARTIAL"
	ActionRejectRequest       = "REJECT_REQUEST"
	ActionIssuePurchaseOrder  = "ISSUE_PURCHASE_ORDER"
	ActionSubmitReceipt       = "SUBMIT_RECEIPT"
	ActionValidateReceipt     = "VALIDATE_RECEIPT"
	ActionRenderPurchaseOrder = "RENDER_PURCHASE_ORDER"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for automated workers
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"` // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
