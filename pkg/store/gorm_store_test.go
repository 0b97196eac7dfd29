package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
)

var errNoCopies = errors.New("no copies")

// openGormStore connects to DATABASE_URL. Every test works on fresh ids so
// runs can share one database.
func openGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewGormStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedGormTitle(t *testing.T, s *GormStore, total int) domain.Title {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	title := domain.Title{
		ID:              util.NewID(),
		Name:            "Dune",
		TotalCopies:     total,
		AvailableCopies: total,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.SaveTitle(title)
	}))
	return title
}

func newOpenLoan(titleID, memberID string, due time.Time) domain.LoanRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.LoanRecord{
		ID:         util.NewID(),
		TitleID:    titleID,
		MemberID:   memberID,
		IssuedByID: "staff-1",
		IssueDate:  now,
		DueDate:    due.UTC().Truncate(time.Microsecond),
		Status:     domain.LoanIssued,
		CreatedAt:  now,
	}
}

// issueInTx mirrors the issue flow: lock the title, check, write.
func issueInTx(s *GormStore, titleID, memberID string) error {
	return s.WithinTx(context.Background(), func(tx Tx) error {
		title, ok, err := tx.FindTitle(titleID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTitleNotFound
		}
		if title.AvailableCopies == 0 {
			return errNoCopies
		}
		if err := tx.CreateLoan(newOpenLoan(titleID, memberID, time.Now().AddDate(0, 0, 14))); err != nil {
			return err
		}
		return tx.AdjustAvailableCopies(titleID, -1)
	})
}

func TestGormStoreLastCopyIsIssuedOnce(t *testing.T) {
	s := openGormStore(t)
	title := seedGormTitle(t, s, 1)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = issueInTx(s, title.ID, util.NewID())
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, errNoCopies)
	}
	assert.Equal(t, 1, succeeded)

	got, ok, err := s.GetTitle(context.Background(), title.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, got.AvailableCopies)
}

func TestGormStoreRejectsDuplicateOpenLoan(t *testing.T) {
	s := openGormStore(t)
	title := seedGormTitle(t, s, 3)
	member := util.NewID()
	require.NoError(t, issueInTx(s, title.ID, member))

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.CreateLoan(newOpenLoan(title.ID, member, time.Now().AddDate(0, 0, 14)))
	})

	assert.ErrorIs(t, err, ErrDuplicateOpenLoan)
}

func TestGormStoreAdjustAvailableCopiesBounds(t *testing.T) {
	s := openGormStore(t)
	title := seedGormTitle(t, s, 1)
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.AdjustAvailableCopies(title.ID, 5) }))
	got, _, err := s.GetTitle(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies, "increment clamps at total")

	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.AdjustAvailableCopies(title.ID, -1) }))
	err = s.WithinTx(ctx, func(tx Tx) error { return tx.AdjustAvailableCopies(title.ID, -1) })
	assert.ErrorIs(t, err, ErrInsufficientCopies)

	err = s.WithinTx(ctx, func(tx Tx) error { return tx.AdjustAvailableCopies(util.NewID(), 1) })
	assert.ErrorIs(t, err, ErrTitleNotFound)
}

func TestGormStoreSavepointSurvivesFailedStatement(t *testing.T) {
	s := openGormStore(t)
	title := seedGormTitle(t, s, 2)
	member := util.NewID()
	ctx := context.Background()
	loan := newOpenLoan(title.ID, member, time.Now().AddDate(0, 0, 14))

	err := s.WithinTx(ctx, func(tx Tx) error {
		if err := tx.CreateLoan(loan); err != nil {
			return err
		}
		spErr := tx.Savepoint(func(sp Tx) error {
			if err := sp.AdjustAvailableCopies(title.ID, -1); err != nil {
				return err
			}
			// A failed statement aborts the savepoint, not the transaction.
			return sp.CreateLoan(newOpenLoan(title.ID, member, time.Now()))
		})
		if !errors.Is(spErr, ErrDuplicateOpenLoan) {
			t.Errorf("savepoint error = %v", spErr)
		}
		return tx.AppendEvent(domain.LoanEvent{
			ID:         util.NewID(),
			LoanID:     loan.ID,
			Type:       domain.EventLoanIssued,
			TitleID:    title.ID,
			MemberID:   member,
			OccurredAt: time.Now().UTC(),
			Details:    map[string]any{"copiesRestored": false},
		})
	})
	require.NoError(t, err)

	_, ok, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, ok, "outer write committed")
	got, _, err := s.GetTitle(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableCopies, "savepoint write rolled back")

	evts, err := s.ListLoanEvents(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, false, evts[0].Details["copiesRestored"])
}

func TestGormStoreUpdateLoanAndOrdering(t *testing.T) {
	s := openGormStore(t)
	first := seedGormTitle(t, s, 1)
	second := seedGormTitle(t, s, 1)
	member := util.NewID()
	ctx := context.Background()
	past := time.Now().AddDate(0, 0, -3)
	future := time.Now().AddDate(0, 0, 10)
	early := newOpenLoan(first.ID, member, past)
	late := newOpenLoan(second.ID, member, future)
	late.CreatedAt = late.CreatedAt.Add(time.Second)

	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error {
		if err := tx.CreateLoan(early); err != nil {
			return err
		}
		return tx.CreateLoan(late)
	}))

	history, err := s.ListLoansByMember(ctx, member)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, late.ID, history[0].ID)

	overdue, err := s.ListOverdueLoans(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, loanIDs(overdue), early.ID)
	assert.NotContains(t, loanIDs(overdue), late.ID)

	returnedAt := time.Now().UTC().Truncate(time.Microsecond)
	early.ReturnDate = &returnedAt
	early.Status = domain.LoanReturned
	early.LateFee = 3
	require.NoError(t, s.WithinTx(ctx, func(tx Tx) error { return tx.UpdateLoan(early) }))

	got, ok, err := s.GetLoan(ctx, early.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.LoanReturned, got.Status)
	assert.Equal(t, 3.0, got.LateFee)
	require.NotNil(t, got.ReturnDate)
	assert.True(t, got.ReturnDate.Equal(returnedAt))

	err = s.WithinTx(ctx, func(tx Tx) error { return tx.UpdateLoan(newOpenLoan(first.ID, member, future)) })
	assert.ErrorIs(t, err, ErrLoanNotFound)
}
