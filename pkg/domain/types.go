package domain

import "time"

type LoanStatus string

const (
	LoanIssued   LoanStatus = "issued"
	LoanReturned LoanStatus = "returned"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleMember    Role = "member"
)

type LoanEventType string

const (
	EventLoanIssued   LoanEventType = "loan.issued"
	EventLoanRenewed  LoanEventType = "loan.renewed"
	EventLoanReturned LoanEventType = "loan.returned"
)

// Title is the ledger view of a catalog entry.
type Title struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TotalCopies     int       `json:"totalCopies"`
	AvailableCopies int       `json:"availableCopies"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// LoanRecord is one issue-to-return lifecycle of a copy lent to a member.
type LoanRecord struct {
	ID           string     `json:"id"`
	TitleID      string     `json:"titleId"`
	MemberID     string     `json:"memberId"`
	IssuedByID   string     `json:"issuedById"`
	IssueDate    time.Time  `json:"issueDate"`
	DueDate      time.Time  `json:"dueDate"`
	ReturnDate   *time.Time `json:"returnDate,omitempty"`
	Status       LoanStatus `json:"status"`
	RenewalCount int        `json:"renewalCount"`
	LateFee      float64    `json:"lateFee"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsOpen reports whether the copy is still out with the member.
func (l LoanRecord) IsOpen() bool {
	return l.Status == LoanIssued
}

// IsOverdue is derived on read; an overdue state is never stored.
func (l LoanRecord) IsOverdue(now time.Time) bool {
	return l.IsOpen() && l.DueDate.Before(now)
}

type LoanEvent struct {
	ID         string         `json:"id"`
	LoanID     string         `json:"loanId"`
	Type       LoanEventType  `json:"type"`
	TitleID    string         `json:"titleId"`
	MemberID   string         `json:"memberId"`
	ActorID    string         `json:"actorId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Details    map[string]any `json:"details,omitempty"`
}

// Caller is the verified identity attached to a request by the auth middleware.
type Caller struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (c Caller) IsStaff() bool {
	return c.Role == RoleAdmin || c.Role == RoleLibrarian
}

// ParseRole maps a token claim onto a known role; unknown values fall back to member.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleAdmin:
		return RoleAdmin
	case RoleLibrarian:
		return RoleLibrarian
	default:
		return RoleMember
	}
}
