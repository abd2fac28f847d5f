package model

import "github.com/google/uuid"

// Role names carried in the access token
const (
	RoleStaff      = "staff"
	RoleApproverL1 = "approver_level_1"
	RoleApproverL2 = "approver_level_2"
	RoleFinance    = "finance"
	RoleAdmin      = "admin"
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// IsStaffOnly reports whether the actor may only see requests it created.
func (a Actor) IsStaffOnly() bool {
	return a.Role == RoleStaff || a.Role == ""
}
