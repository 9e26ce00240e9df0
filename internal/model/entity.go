package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

func (s TicketStatus) Valid() bool {
	return s == TicketStatusOpen || s == TicketStatusClosed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// Role is both the author of a message and the capability of a caller.
type Role string

const (
	RoleUser  Role = "user"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleStaff || r == RoleAdmin
}

// IsStaff reports whether r carries staff capabilities (admin is a superset).
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

type Message struct {
	ID        string    `json:"id,omitempty"`
	From      Role      `json:"from"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Note struct {
	ID        string    `json:"id,omitempty"`
	Note      string    `json:"note"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// Credentials prove ownership for the anonymous creator. Password holds
// plaintext only in documents written before hashing was introduced.
type Credentials struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash,omitempty"`
	Password     string `json:"password,omitempty"`
}

type Ticket struct {
	ID           string       `json:"id"`
	Status       TicketStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CreatorEmail string       `json:"creator_email"`
	CreatorName  string       `json:"creator_name"`
	Subject      string       `json:"subject"`
	Description  string       `json:"description"`
	Priority     Priority     `json:"priority"`
	AssignedTo   *string      `json:"assigned_to"`
	Messages     []Message    `json:"messages"`
	Notes        []Note       `json:"notes,omitempty"`
	Credentials  *Credentials `json:"credentials,omitempty"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	ClosedBy     string       `json:"closed_by,omitempty"`

	// Revision is the store's marker for the version this value was read at.
	Revision string `json:"-"`
}

// StaffView returns a copy safe to hand to staff: credentials stripped.
func (t *Ticket) StaffView() *Ticket {
	out := *t
	out.Credentials = nil
	out.Revision = ""
	return &out
}

// OwnerView additionally hides internal notes.
func (t *Ticket) OwnerView() *Ticket {
	out := t.StaffView()
	out.Notes = nil
	return out
}

// LockStatus is the global Lock Gate record. The zero value means unlocked.
type LockStatus struct {
	TicketSiteLocked  bool `json:"ticket_site_locked"`
	StaffPortalLocked bool `json:"staff_portal_locked"`

	Revision string `json:"-"`
}
