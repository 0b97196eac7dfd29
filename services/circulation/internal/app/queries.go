package app

import (
	"context"
	"time"

	"libraryhub/internal/util"
	"libraryhub/pkg/circulation"
	"libraryhub/pkg/domain"
)

// LoanView is a loan as shown to readers, with the title name, overdue state
// and fee computed at read time.
type LoanView struct {
	domain.LoanRecord
	TitleName  string  `json:"titleName,omitempty"`
	Overdue    bool    `json:"overdue"`
	AccruedFee float64 `json:"accruedFee"`
}

// View annotates loan as of now.
func (a *App) View(ctx context.Context, loan domain.LoanRecord, now time.Time) LoanView {
	return a.Views(ctx, []domain.LoanRecord{loan}, now)[0]
}

// Views annotates loans as of now. Each title is read once; a title that
// cannot be read leaves TitleName empty.
func (a *App) Views(ctx context.Context, loans []domain.LoanRecord, now time.Time) []LoanView {
	names := make(map[string]string)
	out := make([]LoanView, 0, len(loans))
	for _, l := range loans {
		name, seen := names[l.TitleID]
		if !seen {
			name = a.titleName(ctx, l.TitleID)
			names[l.TitleID] = name
		}
		out = append(out, LoanView{
			LoanRecord: l,
			TitleName:  name,
			Overdue:    l.IsOverdue(now),
			AccruedFee: a.policy.AccruedFee(l, now),
		})
	}
	return out
}

func (a *App) titleName(ctx context.Context, titleID string) string {
	title, ok, err := a.store.GetTitle(ctx, titleID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("title lookup for loan view failed", "title_id", titleID, "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return title.Name
}

// ListActiveLoans returns every open loan, soonest due first.
func (a *App) ListActiveLoans(ctx context.Context) ([]domain.LoanRecord, error) {
	loans, err := a.store.ListActiveLoans(ctx)
	if err != nil {
		return nil, failed(ctx, "list_active", err)
	}
	return loans, nil
}

// ListOverdueLoans returns open loans due strictly before now. Zero now means the service clock.
func (a *App) ListOverdueLoans(ctx context.Context, now time.Time) ([]domain.LoanRecord, error) {
	loans, err := a.store.ListOverdueLoans(ctx, a.at(now))
	if err != nil {
		return nil, failed(ctx, "list_overdue", err)
	}
	return loans, nil
}

// ListMemberHistory returns all loans of a member, newest first.
func (a *App) ListMemberHistory(ctx context.Context, memberID string) ([]domain.LoanRecord, error) {
	if err := validateID("memberId", memberID); err != nil {
		return nil, err
	}
	loans, err := a.store.ListLoansByMember(ctx, memberID)
	if err != nil {
		return nil, failed(ctx, "member_history", err)
	}
	return loans, nil
}

func (a *App) GetLoan(ctx context.Context, loanID string) (domain.LoanRecord, error) {
	if err := validateLoanID(loanID); err != nil {
		return domain.LoanRecord{}, err
	}
	loan, ok, err := a.store.GetLoan(ctx, loanID)
	if err != nil {
		return domain.LoanRecord{}, failed(ctx, "get_loan", err)
	}
	if !ok {
		return domain.LoanRecord{}, circulation.ErrLoanNotFound
	}
	return loan, nil
}

// ListLoanEvents returns the audit trail of a loan, oldest first.
func (a *App) ListLoanEvents(ctx context.Context, loanID string) ([]domain.LoanEvent, error) {
	if _, err := a.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	evts, err := a.store.ListLoanEvents(ctx, loanID)
	if err != nil {
		return nil, failed(ctx, "loan_events", err)
	}
	return evts, nil
}

func (a *App) GetTitle(ctx context.Context, titleID string) (domain.Title, error) {
	if err := validateID("titleId", titleID); err != nil {
		return domain.Title{}, err
	}
	title, ok, err := a.store.GetTitle(ctx, titleID)
	if err != nil {
		return domain.Title{}, failed(ctx, "get_title", err)
	}
	if !ok {
		return domain.Title{}, circulation.ErrTitleNotFound
	}
	return title, nil
}
