package store

import (
	"context"
	"errors"
	"time"

	"libraryhub/pkg/domain"
)

var (
	// ErrTitleNotFound is returned by ledger writes against an unknown title.
	ErrTitleNotFound = errors.New("title not found")
	// ErrInsufficientCopies is returned when a decrement would take available copies below zero.
	ErrInsufficientCopies = errors.New("insufficient available copies")
	// ErrDuplicateOpenLoan is returned when a second open loan for the same title and member is written.
	ErrDuplicateOpenLoan = errors.New("open loan already exists for title and member")
	// ErrLoanNotFound is returned when updating a loan that does not exist.
	ErrLoanNotFound = errors.New("loan not found")
)

// Ledger holds aggregate copy counts per title.
type Ledger interface {
	// FindTitle returns the title and holds it for update until the transaction ends.
	FindTitle(id string) (domain.Title, bool, error)
	// AdjustAvailableCopies applies delta to the available count. Increments are
	// clamped at the total; decrements below zero fail with ErrInsufficientCopies.
	AdjustAvailableCopies(id string, delta int) error
	SaveTitle(t domain.Title) error
}

// LoanStore holds loan records and their audit trail.
type LoanStore interface {
	// GetLoan returns the loan and holds it for update until the transaction ends.
	GetLoan(id string) (domain.LoanRecord, bool, error)
	FindOpenLoan(titleID, memberID string) (domain.LoanRecord, bool, error)
	CountOpenLoans(titleID string) (int, error)
	CreateLoan(l domain.LoanRecord) error
	UpdateLoan(l domain.LoanRecord) error
	AppendEvent(e domain.LoanEvent) error
}

// Tx is one atomic unit spanning the ledger and the loan store.
type Tx interface {
	Ledger
	LoanStore
	// Savepoint runs fn in a nested unit. When fn fails only its own writes are
	// discarded and the enclosing transaction can still commit.
	Savepoint(fn func(Tx) error) error
}

// Store defines persistence for the circulation service.
type Store interface {
	// WithinTx runs fn atomically: every write made through the Tx commits
	// together when fn returns nil, and none of them does otherwise.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	GetTitle(ctx context.Context, id string) (domain.Title, bool, error)
	GetLoan(ctx context.Context, id string) (domain.LoanRecord, bool, error)
	// ListActiveLoans returns open loans ordered by due date ascending.
	ListActiveLoans(ctx context.Context) ([]domain.LoanRecord, error)
	// ListOverdueLoans returns open loans due strictly before now, by due date ascending.
	ListOverdueLoans(ctx context.Context, now time.Time) ([]domain.LoanRecord, error)
	// ListLoansByMember returns every loan of the member, newest first.
	ListLoansByMember(ctx context.Context, memberID string) ([]domain.LoanRecord, error)
	// ListLoanEvents returns the audit trail of a loan, oldest first.
	ListLoanEvents(ctx context.Context, loanID string) ([]domain.LoanEvent, error)
}
