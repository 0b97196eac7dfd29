package app

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"libraryhub/internal/util"
	"libraryhub/pkg/circulation"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/events"
	"libraryhub/pkg/storage"
	"libraryhub/pkg/store"
)

const maxIDLength = 128

// Config holds the collaborators of the circulation service.
type Config struct {
	Store  store.Store
	Policy circulation.Policy
	// Publisher receives committed loan events. Nil drops them.
	Publisher events.Publisher
	// Objects stores exported reports. Nil disables ExportOverdueReport.
	Objects         storage.ObjectStore
	ReportURLExpiry time.Duration
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// App runs the loan lifecycle against the ledger and the loan store.
type App struct {
	store           store.Store
	policy          circulation.Policy
	publisher       events.Publisher
	objects         storage.ObjectStore
	reportURLExpiry time.Duration
	clock           func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Policy.LoanPeriodDays() <= 0 {
		return nil, errors.New("circulation policy required")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	expiry := cfg.ReportURLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &App{
		store:           cfg.Store,
		policy:          cfg.Policy,
		publisher:       publisher,
		objects:         cfg.Objects,
		reportURLExpiry: expiry,
		clock:           clock,
	}, nil
}

// Policy exposes the rules the service runs with.
func (a *App) Policy() circulation.Policy { return a.policy }

// Now is the service clock.
func (a *App) Now() time.Time { return a.clock() }

func (a *App) at(t time.Time) time.Time {
	if t.IsZero() {
		return a.clock()
	}
	return t
}

func validateID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return circulation.Invalid("%s is required", field)
	}
	if len(value) > maxIDLength {
		return circulation.Invalid("%s must be at most %d characters", field, maxIDLength)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 || value != strings.TrimSpace(value) {
		return circulation.Invalid("%s contains invalid characters", field)
	}
	return nil
}

func validateLoanID(id string) error {
	if err := validateID("loanId", id); err != nil {
		return err
	}
	if !util.IsUUID(id) {
		return circulation.Invalid("loanId must be a UUID")
	}
	return nil
}

// storeErr translates store sentinels into circulation errors.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrTitleNotFound):
		return circulation.ErrTitleNotFound
	case errors.Is(err, store.ErrLoanNotFound):
		return circulation.ErrLoanNotFound
	case errors.Is(err, store.ErrInsufficientCopies):
		return circulation.ErrNoCopiesAvailable
	case errors.Is(err, store.ErrDuplicateOpenLoan):
		return circulation.ErrAlreadyIssued
	default:
		return circulation.StorageFailure(err)
	}
}

// failed logs storage failures with their cause and returns the
// caller-facing error.
func failed(ctx context.Context, op string, err error) error {
	err = storeErr(err)
	if circulation.KindOf(err) == circulation.KindStorageFailure {
		util.LoggerFromContext(ctx).Error("circulation storage failure", "op", op, "err", err)
	}
	return err
}

func newEvent(typ domain.LoanEventType, loan domain.LoanRecord, actorID string, at time.Time, details map[string]any) domain.LoanEvent {
	return domain.LoanEvent{
		ID:         util.NewID(),
		LoanID:     loan.ID,
		Type:       typ,
		TitleID:    loan.TitleID,
		MemberID:   loan.MemberID,
		ActorID:    actorID,
		OccurredAt: at,
		Details:    details,
	}
}

// publish hands a committed event to the publisher. Failures are logged only;
// the mutation has already committed.
func (a *App) publish(ctx context.Context, e domain.LoanEvent) {
	if err := a.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		util.LoggerFromContext(ctx).Warn("loan event publish failed", "event_id", e.ID, "type", e.Type, "loan_id", e.LoanID, "err", err)
	}
}
