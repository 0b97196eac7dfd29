package circulation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/pkg/circulation"
	"libraryhub/pkg/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func defaultPolicy(t *testing.T) circulation.Policy {
	t.Helper()
	p, err := circulation.NewPolicy(circulation.DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestNewPolicyRejectsInvalidConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  circulation.Config
	}{
		{name: "zero loan period", cfg: circulation.Config{LoanPeriodDays: 0, MaxRenewals: 2, LateFeePerDay: 1}},
		{name: "negative renewals", cfg: circulation.Config{LoanPeriodDays: 14, MaxRenewals: -1, LateFeePerDay: 1}},
		{name: "negative fee", cfg: circulation.Config{LoanPeriodDays: 14, MaxRenewals: 2, LateFeePerDay: -0.5}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := circulation.NewPolicy(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestDueDateAddsCalendarDays(t *testing.T) {
	p := defaultPolicy(t)

	testCases := []struct {
		name  string
		issue time.Time
		want  time.Time
	}{
		{name: "month rollover", issue: date(2024, time.January, 20), want: date(2024, time.February, 3)},
		{name: "leap year february", issue: date(2024, time.February, 20), want: date(2024, time.March, 5)},
		{name: "non leap february", issue: date(2023, time.February, 20), want: date(2023, time.March, 6)},
		{name: "year rollover", issue: date(2023, time.December, 25), want: date(2024, time.January, 8)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(p.DueDate(tc.issue)), "got %s", p.DueDate(tc.issue))
		})
	}
}

func TestDueDateKeepsWallClockAcrossDSTInConfiguredLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cfg := circulation.DefaultConfig()
	cfg.Location = loc
	p, err := circulation.NewPolicy(cfg)
	require.NoError(t, err)

	issue := time.Date(2024, time.March, 25, 10, 0, 0, 0, loc)
	due := p.DueDate(issue)

	assert.Equal(t, 10, due.Hour())
	assert.Equal(t, 8, due.Day())
	assert.Equal(t, time.April, due.Month())
}

func TestLateFee(t *testing.T) {
	p := defaultPolicy(t)
	due := date(2024, time.February, 3)

	testCases := []struct {
		name     string
		returned time.Time
		want     float64
	}{
		{name: "returned early", returned: due.Add(-48 * time.Hour), want: 0},
		{name: "returned exactly on due date", returned: due, want: 0},
		{name: "one hour late", returned: due.Add(time.Hour), want: 0},
		{name: "twenty five hours late counts one day", returned: due.Add(25 * time.Hour), want: 1},
		{name: "three days late", returned: due.AddDate(0, 0, 3), want: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.LateFee(due, tc.returned))
		})
	}
}

func TestLateFeeUsesConfiguredRate(t *testing.T) {
	cfg := circulation.DefaultConfig()
	cfg.LateFeePerDay = 0.25
	p, err := circulation.NewPolicy(cfg)
	require.NoError(t, err)

	due := date(2024, time.March, 1)

	assert.Equal(t, 1.75, p.LateFee(due, due.AddDate(0, 0, 7)))
}

func TestCanRenew(t *testing.T) {
	p := defaultPolicy(t)

	open := domain.LoanRecord{Status: domain.LoanIssued, RenewalCount: p.MaxRenewals() - 1}
	atLimit := domain.LoanRecord{Status: domain.LoanIssued, RenewalCount: p.MaxRenewals()}
	returned := domain.LoanRecord{Status: domain.LoanReturned}

	assert.True(t, p.CanRenew(open))
	assert.False(t, p.CanRenew(atLimit))
	assert.False(t, p.CanRenew(returned))
}

func TestRenewedDueDateExtendsFromCurrentDueDate(t *testing.T) {
	p := defaultPolicy(t)
	loan := domain.LoanRecord{Status: domain.LoanIssued, DueDate: date(2024, time.January, 1)}

	// renewing on 2024-01-10 must not move the base to "now"
	got := p.RenewedDueDate(loan)

	assert.True(t, date(2024, time.January, 15).Equal(got), "got %s", got)
}

func TestAccruedFee(t *testing.T) {
	p := defaultPolicy(t)
	due := date(2024, time.January, 1)

	open := domain.LoanRecord{Status: domain.LoanIssued, DueDate: due}
	returned := domain.LoanRecord{Status: domain.LoanReturned, DueDate: due, LateFee: 4}

	assert.Equal(t, 5.0, p.AccruedFee(open, due.AddDate(0, 0, 5)))
	assert.Equal(t, 4.0, p.AccruedFee(returned, due.AddDate(0, 0, 30)))
}

func TestIsOverdueIsDerived(t *testing.T) {
	due := date(2024, time.January, 1)
	loan := domain.LoanRecord{Status: domain.LoanIssued, DueDate: due}

	assert.False(t, loan.IsOverdue(due))
	assert.True(t, loan.IsOverdue(due.Add(time.Second)))

	loan.Status = domain.LoanReturned
	assert.False(t, loan.IsOverdue(due.AddDate(1, 0, 0)))
}
