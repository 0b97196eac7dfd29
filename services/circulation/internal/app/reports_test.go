package app_test

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/pkg/circulation"
	"libraryhub/pkg/storage"
	"libraryhub/pkg/store"
	"libraryhub/services/circulation/internal/app"
)

func TestExportOverdueReportUploadsCSV(t *testing.T) {
	// arrange
	objects := storage.NewMemoryStore()
	a, err := app.New(app.Config{
		Store:           store.NewMemoryStore(),
		Policy:          circulation.MustPolicy(circulation.DefaultConfig()),
		Objects:         objects,
		ReportURLExpiry: 10 * time.Minute,
		Clock:           func() time.Time { return day0 },
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, _, err = a.UpsertTitle(ctx, app.TitleInput{ID: "T", Name: "Dune", TotalCopies: 2})
	require.NoError(t, err)
	overdue, err := a.IssueLoan(ctx, app.IssueRequest{TitleID: "T", MemberID: "M1", IssuedByID: "S", Now: atDay(0)})
	require.NoError(t, err)
	_, err = a.IssueLoan(ctx, app.IssueRequest{TitleID: "T", MemberID: "M2", IssuedByID: "S", Now: atDay(10)})
	require.NoError(t, err)

	// act
	report, err := a.ExportOverdueReport(ctx, atDay(17))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count)
	assert.True(t, strings.HasPrefix(report.Key, "reports/overdue/20240118T100000Z-"), report.Key)
	assert.NotEmpty(t, report.URL)

	obj, ok := objects.Get(report.Key)
	require.True(t, ok)
	assert.Equal(t, "text/csv", obj.ContentType)
	rows, err := csv.NewReader(strings.NewReader(string(obj.Data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "loanId", rows[0][0])
	assert.Equal(t, overdue.ID, rows[1][0])
	assert.Equal(t, "3", rows[1][5])
	assert.Equal(t, "3.00", rows[1][7])
}

func TestExportOverdueReportDisabledWithoutObjectStore(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.ExportOverdueReport(context.Background(), time.Time{})

	assert.ErrorIs(t, err, app.ErrReportsDisabled)
}
