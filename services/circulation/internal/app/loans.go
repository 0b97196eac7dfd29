package app

import (
	"context"
	"time"

	"libraryhub/internal/util"
	"libraryhub/pkg/circulation"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/store"
)

// IssueRequest asks for one copy of a title to be lent to a member.
// A zero Now means the service clock.
type IssueRequest struct {
	TitleID    string
	MemberID   string
	IssuedByID string
	Now        time.Time
}

type ReturnRequest struct {
	LoanID  string
	ActorID string
	Now     time.Time
}

type RenewRequest struct {
	LoanID  string
	ActorID string
	Now     time.Time
}

// IssueLoan lends a copy. Checks run in this order: title exists, a copy is
// available, the member does not already hold the title.
func (a *App) IssueLoan(ctx context.Context, req IssueRequest) (domain.LoanRecord, error) {
	if err := validateID("titleId", req.TitleID); err != nil {
		return domain.LoanRecord{}, err
	}
	if err := validateID("memberId", req.MemberID); err != nil {
		return domain.LoanRecord{}, err
	}
	if err := validateID("issuedById", req.IssuedByID); err != nil {
		return domain.LoanRecord{}, err
	}
	now := a.at(req.Now)

	var (
		loan  domain.LoanRecord
		event domain.LoanEvent
	)
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		title, ok, err := tx.FindTitle(req.TitleID)
		if err != nil {
			return err
		}
		if !ok {
			return circulation.ErrTitleNotFound
		}
		if title.AvailableCopies <= 0 {
			return circulation.ErrNoCopiesAvailable
		}
		if _, open, err := tx.FindOpenLoan(req.TitleID, req.MemberID); err != nil {
			return err
		} else if open {
			return circulation.ErrAlreadyIssued
		}

		loan = domain.LoanRecord{
			ID:         util.NewID(),
			TitleID:    title.ID,
			MemberID:   req.MemberID,
			IssuedByID: req.IssuedByID,
			IssueDate:  now,
			DueDate:    a.policy.DueDate(now),
			Status:     domain.LoanIssued,
			CreatedAt:  now,
		}
		if err := tx.CreateLoan(loan); err != nil {
			return err
		}
		if err := tx.AdjustAvailableCopies(title.ID, -1); err != nil {
			return err
		}
		event = newEvent(domain.EventLoanIssued, loan, req.IssuedByID, now, map[string]any{
			"dueDate": loan.DueDate,
		})
		return tx.AppendEvent(event)
	})
	if err != nil {
		return domain.LoanRecord{}, failed(ctx, "issue", err)
	}
	util.LoggerFromContext(ctx).Info("loan issued", "loan_id", loan.ID, "title_id", loan.TitleID, "member_id", loan.MemberID, "due_date", loan.DueDate)
	a.publish(ctx, event)
	return loan, nil
}

// ReturnLoan closes a loan and freezes its late fee. The copy is handed back
// to the ledger in a savepoint; if that fails the return still commits and
// the record comes back together with a ledger reconciliation error.
func (a *App) ReturnLoan(ctx context.Context, req ReturnRequest) (domain.LoanRecord, error) {
	if err := validateLoanID(req.LoanID); err != nil {
		return domain.LoanRecord{}, err
	}
	now := a.at(req.Now)

	var (
		loan         domain.LoanRecord
		event        domain.LoanEvent
		reconcileErr error
	)
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		current, ok, err := tx.GetLoan(req.LoanID)
		if err != nil {
			return err
		}
		if !ok {
			return circulation.ErrLoanNotFound
		}
		if !current.IsOpen() {
			return circulation.ErrAlreadyReturned
		}

		returned := now
		current.ReturnDate = &returned
		current.Status = domain.LoanReturned
		current.LateFee = a.policy.LateFee(current.DueDate, now)
		if err := tx.UpdateLoan(current); err != nil {
			return err
		}

		reconcileErr = tx.Savepoint(func(sp store.Tx) error {
			return sp.AdjustAvailableCopies(current.TitleID, 1)
		})

		loan = current
		event = newEvent(domain.EventLoanReturned, loan, req.ActorID, now, map[string]any{
			"lateFee":        loan.LateFee,
			"overdueDays":    circulation.OverdueDays(loan.DueDate, now),
			"copiesRestored": reconcileErr == nil,
		})
		return tx.AppendEvent(event)
	})
	if err != nil {
		return domain.LoanRecord{}, failed(ctx, "return", err)
	}

	logger := util.LoggerFromContext(ctx)
	logger.Info("loan returned", "loan_id", loan.ID, "title_id", loan.TitleID, "late_fee", loan.LateFee)
	a.publish(ctx, event)
	if reconcileErr != nil {
		logger.Error("available copies not restored after return", "loan_id", loan.ID, "title_id", loan.TitleID, "err", reconcileErr)
		return loan, circulation.ReconciliationFailure(reconcileErr)
	}
	return loan, nil
}

// RenewLoan pushes the due date out by one loan period from the current due
// date. Overdue loans may be renewed.
func (a *App) RenewLoan(ctx context.Context, req RenewRequest) (domain.LoanRecord, error) {
	if err := validateLoanID(req.LoanID); err != nil {
		return domain.LoanRecord{}, err
	}
	now := a.at(req.Now)

	var (
		loan  domain.LoanRecord
		event domain.LoanEvent
	)
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		current, ok, err := tx.GetLoan(req.LoanID)
		if err != nil {
			return err
		}
		if !ok {
			return circulation.ErrLoanNotFound
		}
		if !current.IsOpen() {
			return circulation.ErrAlreadyReturned
		}
		if !a.policy.CanRenew(current) {
			return circulation.ErrRenewalLimitExceeded
		}

		previousDue := current.DueDate
		current.DueDate = a.policy.RenewedDueDate(current)
		current.RenewalCount++
		if err := tx.UpdateLoan(current); err != nil {
			return err
		}
		loan = current
		event = newEvent(domain.EventLoanRenewed, loan, req.ActorID, now, map[string]any{
			"previousDueDate": previousDue,
			"dueDate":         loan.DueDate,
			"renewalCount":    loan.RenewalCount,
		})
		return tx.AppendEvent(event)
	})
	if err != nil {
		return domain.LoanRecord{}, failed(ctx, "renew", err)
	}
	util.LoggerFromContext(ctx).Info("loan renewed", "loan_id", loan.ID, "due_date", loan.DueDate, "renewal_count", loan.RenewalCount)
	a.publish(ctx, event)
	return loan, nil
}
