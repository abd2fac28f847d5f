package model

import "time"

// Event types broadcast after a commit
const (
	EventRequestCreated      = "request.created"
	EventRequestUpdated      = "request.updated"
	EventRequestDeleted      = "request.deleted"
	EventRequestEscalated    = "request.escalated"
	EventRequestApproved     = "request.approved"
	EventRequestRejected     = "request.rejected"
	EventPurchaseOrderIssued = "purchase_order.issued"
	EventReceiptSubmitted    = "receipt.submitted"
	EventReceiptValidated    = "receipt.validated"
)

// Event describes a committed change to a purchase request or one of its records.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	Status    string    `json:"status,omitempty"`
	Level     int       `json:"level,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	PONumber  string    `json:"po_number,omitempty"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	At        time.Time `json:"at"`
}
