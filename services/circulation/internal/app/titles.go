package app

import (
	"context"
	"strings"
	"time"

	"libraryhub/internal/util"
	"libraryhub/pkg/circulation"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/store"
)

const maxTitleNameLength = 512

// TitleInput is the catalog's view of a title.
type TitleInput struct {
	ID          string
	Name        string
	TotalCopies int
	Now         time.Time
}

// UpsertTitle creates a title with every copy available, or resizes an
// existing one so that available = total - open loans. Shrinking below the
// number of copies on loan is rejected.
func (a *App) UpsertTitle(ctx context.Context, in TitleInput) (domain.Title, bool, error) {
	if err := validateID("titleId", in.ID); err != nil {
		return domain.Title{}, false, err
	}
	name := strings.TrimSpace(in.Name)
	if len(name) > maxTitleNameLength {
		return domain.Title{}, false, circulation.Invalid("name must be at most %d characters", maxTitleNameLength)
	}
	if in.TotalCopies < 0 {
		return domain.Title{}, false, circulation.Invalid("totalCopies must not be negative")
	}
	now := a.at(in.Now)

	var (
		title   domain.Title
		created bool
	)
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		existing, ok, err := tx.FindTitle(in.ID)
		if err != nil {
			return err
		}
		if !ok {
			if name == "" {
				return circulation.Invalid("name is required for a new title")
			}
			created = true
			title = domain.Title{
				ID:              in.ID,
				Name:            name,
				TotalCopies:     in.TotalCopies,
				AvailableCopies: in.TotalCopies,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			return tx.SaveTitle(title)
		}

		onLoan, err := tx.CountOpenLoans(in.ID)
		if err != nil {
			return err
		}
		if in.TotalCopies < onLoan {
			return circulation.ErrCopiesInUse
		}
		title = existing
		if name != "" {
			title.Name = name
		}
		title.TotalCopies = in.TotalCopies
		title.AvailableCopies = in.TotalCopies - onLoan
		title.UpdatedAt = now
		return tx.SaveTitle(title)
	})
	if err != nil {
		return domain.Title{}, false, failed(ctx, "upsert_title", err)
	}
	util.LoggerFromContext(ctx).Info("title synced", "title_id", title.ID, "created", created, "total_copies", title.TotalCopies, "available_copies", title.AvailableCopies)
	return title, created, nil
}
