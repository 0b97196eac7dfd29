package circulation

import (
	"errors"
	"math"
	"time"

	"libraryhub/pkg/domain"
)

const (
	DefaultLoanPeriodDays = 14
	DefaultMaxRenewals    = 2
	DefaultLateFeePerDay  = 1.0
)

const day = 24 * time.Hour

// Config parameterizes the circulation rules.
type Config struct {
	LoanPeriodDays int
	MaxRenewals    int
	LateFeePerDay  float64
	// Location is the calendar used for due-date arithmetic. Nil means UTC.
	Location *time.Location
}

// DefaultConfig returns the library defaults: 14-day loans, 2 renewals, 1.0 per day late.
func DefaultConfig() Config {
	return Config{
		LoanPeriodDays: DefaultLoanPeriodDays,
		MaxRenewals:    DefaultMaxRenewals,
		LateFeePerDay:  DefaultLateFeePerDay,
		Location:       time.UTC,
	}
}

// Policy computes due dates, renewal eligibility and late fees.
// All methods are pure.
type Policy struct {
	loanPeriodDays int
	maxRenewals    int
	lateFeePerDay  float64
	loc            *time.Location
}

// NewPolicy validates cfg and builds a Policy.
func NewPolicy(cfg Config) (Policy, error) {
	if cfg.LoanPeriodDays <= 0 {
		return Policy{}, errors.New("loan period must be at least one day")
	}
	if cfg.MaxRenewals < 0 {
		return Policy{}, errors.New("max renewals must not be negative")
	}
	if cfg.LateFeePerDay < 0 || math.IsNaN(cfg.LateFeePerDay) || math.IsInf(cfg.LateFeePerDay, 0) {
		return Policy{}, errors.New("late fee per day must be a non-negative number")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return Policy{
		loanPeriodDays: cfg.LoanPeriodDays,
		maxRenewals:    cfg.MaxRenewals,
		lateFeePerDay:  cfg.LateFeePerDay,
		loc:            loc,
	}, nil
}

// MustPolicy is NewPolicy for configurations known to be valid.
func MustPolicy(cfg Config) Policy {
	p, err := NewPolicy(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Policy) LoanPeriodDays() int    { return p.loanPeriodDays }
func (p Policy) MaxRenewals() int       { return p.maxRenewals }
func (p Policy) LateFeePerDay() float64 { return p.lateFeePerDay }

// DueDate adds the loan period in calendar days, so month ends, year ends
// and leap days roll over the way a wall calendar does.
func (p Policy) DueDate(issueDate time.Time) time.Time {
	return p.addDays(issueDate, p.loanPeriodDays)
}

// RenewedDueDate extends from the current due date, not from the renewal time.
func (p Policy) RenewedDueDate(loan domain.LoanRecord) time.Time {
	return p.addDays(loan.DueDate, p.loanPeriodDays)
}

// CanRenew reports whether loan is open and below the renewal cap.
func (p Policy) CanRenew(loan domain.LoanRecord) bool {
	return loan.Status == domain.LoanIssued && loan.RenewalCount < p.maxRenewals
}

// LateFee charges whole elapsed days past due; partial days are truncated.
func (p Policy) LateFee(dueDate, returnDate time.Time) float64 {
	days := OverdueDays(dueDate, returnDate)
	if days == 0 {
		return 0
	}
	return roundCents(float64(days) * p.lateFeePerDay)
}

// AccruedFee is the frozen fee of a returned loan, or the fee an open loan
// would be charged if it came back at now.
func (p Policy) AccruedFee(loan domain.LoanRecord, now time.Time) float64 {
	if !loan.IsOpen() {
		return loan.LateFee
	}
	return p.LateFee(loan.DueDate, now)
}

// OverdueDays is floor((returnDate - dueDate) / 24h), never negative.
func OverdueDays(dueDate, returnDate time.Time) int64 {
	if !returnDate.After(dueDate) {
		return 0
	}
	return int64(returnDate.Sub(dueDate) / day)
}

func (p Policy) addDays(t time.Time, days int) time.Time {
	return t.In(p.loc).AddDate(0, 0, days)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
