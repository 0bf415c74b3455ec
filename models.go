package hostel

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is the account role asserted at login and stored on the profile.
type Role string

const (
	// RoleStudent is a hostel resident.
	RoleStudent Role = "student"
	// RoleCaretaker manages a hostel (issues, leaves, mess).
	RoleCaretaker Role = "caretaker"
	// RoleAdmin administers hostels and approves registrations.
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleCaretaker, RoleAdmin:
		return true
	default:
		return false
	}
}

// DefaultApproval is the approval state a new profile with this role starts
// with. Admins are approved on registration.
func (r Role) DefaultApproval() ApprovalStatus {
	if r == RoleAdmin {
		return ApprovalApproved
	}
	return ApprovalPending
}

// AllRoles returns every role
func AllRoles() []Role {
	return []Role{RoleStudent, RoleCaretaker, RoleAdmin}
}

// ParseRole safely parses a string into a Role
func ParseRole(raw string) (Role, bool) {
	role := Role(raw)
	return role, role.IsValid()
}

// ApprovalStatus tracks the admin review of a registration.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// IsValid checks the status against the known values.
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

// Profile column names, used for partial fetches.
const (
	ColumnID              = "id"
	ColumnEmail           = "email"
	ColumnFullName        = "full_name"
	ColumnRole            = "role"
	ColumnHostelID        = "hostel_id"
	ColumnRoomNumber      = "room_number"
	ColumnStudentID       = "student_id"
	ColumnDepartment      = "department"
	ColumnPhone           = "phone"
	ColumnApprovalStatus  = "approval_status"
	ColumnRejectionReason = "rejection_reason"
	ColumnCreatedAt       = "created_at"
	ColumnUpdatedAt       = "updated_at"
)

// ProfileColumns lists every column of the profiles table.
func ProfileColumns() []string {
	return []string{
		ColumnID, ColumnEmail, ColumnFullName, ColumnRole, ColumnHostelID,
		ColumnRoomNumber, ColumnStudentID, ColumnDepartment, ColumnPhone,
		ColumnApprovalStatus, ColumnRejectionReason, ColumnCreatedAt, ColumnUpdatedAt,
	}
}

// UserProfile is the application record keyed by the identity provider
// subject id.
type UserProfile struct {
	bun.BaseModel   `bun:"table:profiles,alias:prf"`
	ID              string         `bun:"id,pk" json:"id"`
	Email           string         `bun:"email,notnull" json:"email"`
	FullName        string         `bun:"full_name,notnull" json:"full_name"`
	Role            Role           `bun:"role,notnull" json:"role"`
	HostelID        string         `bun:"hostel_id" json:"hostel_id,omitempty"`
	RoomNumber      string         `bun:"room_number" json:"room_number,omitempty"`
	StudentID       string         `bun:"student_id" json:"student_id,omitempty"`
	Department      string         `bun:"department" json:"department,omitempty"`
	Phone           string         `bun:"phone" json:"phone,omitempty"`
	ApprovalStatus  ApprovalStatus `bun:"approval_status,notnull" json:"approval_status"`
	RejectionReason string         `bun:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Name returns the display name.
func (p *UserProfile) Name() string {
	if p == nil {
		return ""
	}
	return p.FullName
}

// IsApproved reports whether the profile may use the dashboards.
func (p *UserProfile) IsApproved() bool {
	if p == nil {
		return false
	}
	return p.Role == RoleAdmin || p.ApprovalStatus == ApprovalApproved
}

// Clone returns a copy safe to hand to readers.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.CreatedAt != nil {
		t := *p.CreatedAt
		cp.CreatedAt = &t
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		cp.UpdatedAt = &t
	}
	return &cp
}
