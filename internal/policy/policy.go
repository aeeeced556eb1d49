// Package policy holds the pure authorization predicates. Every check takes
// explicit actor and resource snapshots — no gin context, no database, no
// hidden state — so the full matrix is testable without mocks.
package policy

import (
	"github.com/google/uuid"

	"travelapi/internal/model"
)

// Actor is the authenticated identity a verified token resolves to.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// UserFields marks which groups of user fields an update touches.
type UserFields struct {
	Name     bool // first_name / last_name
	Email    bool
	Role     bool
	Active   bool
	Password bool
}

// CanViewUser permits admins and the user themself.
func CanViewUser(actor Actor, target *model.User) bool {
	return actor.IsAdmin() || actor.ID == target.ID
}

// CanListUsers permits admins only.
func CanListUsers(actor Actor) bool {
	return actor.IsAdmin()
}

// CanManageUsers permits admins only (create users, read the audit log).
func CanManageUsers(actor Actor) bool {
	return actor.IsAdmin()
}

// CanUpdateUserFields decides a user update. Admins may set any field except
// their own active flag; a user may change only their own name and password.
func CanUpdateUserFields(actor Actor, target *model.User, fields UserFields) bool {
	if actor.IsAdmin() {
		if fields.Active && actor.ID == target.ID {
			return false
		}
		return true
	}
	if actor.ID != target.ID {
		return false
	}
	return !fields.Email && !fields.Role && !fields.Active
}

// CanDeleteUser permits admins, never against themselves.
func CanDeleteUser(actor Actor, target *model.User) bool {
	return actor.IsAdmin() && actor.ID != target.ID
}

// CanViewRequest permits the requester, the assigned approver, and admins.
func CanViewRequest(actor Actor, req *model.TravelRequest) bool {
	return actor.ID == req.RequesterID || actor.ID == req.ApproverID || actor.IsAdmin()
}

// CanMutateDraft permits only the requester, regardless of role. Covers field
// updates, submission, and deletion of drafts.
func CanMutateDraft(actor Actor, req *model.TravelRequest) bool {
	return actor.ID == req.RequesterID
}

// CanDecide permits the assigned approver and admins.
func CanDecide(actor Actor, req *model.TravelRequest) bool {
	return actor.ID == req.ApproverID || actor.IsAdmin()
}

// CanCancel permits only the requester.
func CanCancel(actor Actor, req *model.TravelRequest) bool {
	return actor.ID == req.RequesterID
}
