package models

// Domain models matching the database schema in db/migrations/0001_init.sql.
// Timestamps are unix milliseconds.

type Role string

const (
	RoleStudent   Role = "student"
	RoleWarden    Role = "warden"
	RoleSuperuser Role = "superuser"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleWarden, RoleSuperuser:
		return true
	}
	return false
}

// Moderator reports whether the role may change the status of leaves and
// complaints.
func (r Role) Moderator() bool {
	return r == RoleWarden || r == RoleSuperuser
}

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountInactive
}

// Profile is the users/{uid} document. DeviceTokens is a set.
type Profile struct {
	UID          string        `json:"uid" db:"uid"`
	Name         string        `json:"name" db:"name" validate:"required"`
	Email        string        `json:"email" db:"email" validate:"required,email"`
	Role         Role          `json:"role" db:"role"`
	Status       AccountStatus `json:"status" db:"status"`
	RollNo       string        `json:"rollNo,omitempty" db:"roll_no"`
	HostelNo     string        `json:"hostelNo,omitempty" db:"hostel_no"`
	RoomNo       string        `json:"roomNo,omitempty" db:"room_no"`
	DeviceTokens []string      `json:"deviceTokens,omitempty" db:"-"`
	CreatedAt    int64         `json:"createdAt" db:"created_at"`
	UpdatedAt    int64         `json:"updatedAt,omitempty" db:"updated_at"`
}

func (p *Profile) Active() bool {
	return p != nil && p.Status != AccountInactive
}

// ProfileFilter narrows ListProfiles. Empty fields match everything.
type ProfileFilter struct {
	Role   Role
	Status AccountStatus
}

const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
	StatusResolved = "Resolved"
)

type Leave struct {
	ID        string `json:"id" db:"id"`
	StudentID string `json:"studentId" db:"student_id"`
	FromDate  string `json:"fromDate" db:"from_date" validate:"required"`
	ToDate    string `json:"toDate" db:"to_date" validate:"required"`
	Reason    string `json:"reason" db:"reason" validate:"required,max=2000"`
	Status    string `json:"status" db:"status"`
	Remarks   string `json:"remarks,omitempty" db:"remarks"`
	AppliedAt int64  `json:"appliedAt" db:"applied_at"`
	UpdatedAt int64  `json:"updatedAt,omitempty" db:"updated_at"`
}

type Complaint struct {
	ID          string `json:"id" db:"id"`
	StudentID   string `json:"studentId" db:"student_id"`
	Category    string `json:"category" db:"category" validate:"required,max=100"`
	Description string `json:"description" db:"description" validate:"required,max=4000"`
	Status      string `json:"status" db:"status"`
	Remarks     string `json:"remarks,omitempty" db:"remarks"`
	CreatedAt   int64  `json:"createdAt" db:"created_at"`
	UpdatedAt   int64  `json:"updatedAt,omitempty" db:"updated_at"`
}

// LeaveStatuses and ComplaintStatuses are the values a moderator may set.
var (
	LeaveStatuses     = []string{StatusPending, StatusApproved, StatusRejected}
	ComplaintStatuses = []string{StatusPending, StatusResolved}
)

// Moderation is a moderator's decision on a leave or complaint.
type Moderation struct {
	Status  string `json:"status" validate:"required"`
	Remarks string `json:"remarks" validate:"max=2000"`
}

// Snapshot is the field map of a document at one point in time, as seen by
// change feed consumers.
type Snapshot map[string]any

// String returns the named field when it is a non-empty string.
func (s Snapshot) String(field string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s[field].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
