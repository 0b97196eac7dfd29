package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"libraryhub/internal/util"
	"libraryhub/pkg/circulation"
	"libraryhub/pkg/domain"
)

// ErrReportsDisabled is returned when no object store is configured.
var ErrReportsDisabled = errors.New("report export is not configured")

// Report points at an exported overdue list.
type Report struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Count       int       `json:"count"`
	GeneratedAt time.Time `json:"generatedAt"`
}

var overdueReportHeader = []string{"loanId", "titleId", "memberId", "issueDate", "dueDate", "daysOverdue", "renewalCount", "accruedFee"}

// ExportOverdueReport writes the overdue list as CSV to object storage and
// returns a pre-signed download link.
func (a *App) ExportOverdueReport(ctx context.Context, now time.Time) (Report, error) {
	if a.objects == nil {
		return Report{}, ErrReportsDisabled
	}
	now = a.at(now)
	loans, err := a.ListOverdueLoans(ctx, now)
	if err != nil {
		return Report{}, err
	}
	body, err := a.renderOverdueCSV(loans, now)
	if err != nil {
		return Report{}, circulation.StorageFailure(err)
	}

	key := fmt.Sprintf("reports/overdue/%s-%s.csv", now.UTC().Format("20060102T150405Z"), util.NewID())
	if err := a.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "text/csv"); err != nil {
		return Report{}, failed(ctx, "report_upload", err)
	}
	url, err := a.objects.PresignGet(ctx, key, a.reportURLExpiry)
	if err != nil {
		return Report{}, failed(ctx, "report_presign", err)
	}
	util.LoggerFromContext(ctx).Info("overdue report exported", "key", key, "count", len(loans))
	return Report{Key: key, URL: url, Count: len(loans), GeneratedAt: now}, nil
}

func (a *App) renderOverdueCSV(loans []domain.LoanRecord, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(overdueReportHeader); err != nil {
		return nil, err
	}
	for _, l := range loans {
		record := []string{
			l.ID,
			l.TitleID,
			l.MemberID,
			l.IssueDate.UTC().Format(time.RFC3339),
			l.DueDate.UTC().Format(time.RFC3339),
			strconv.FormatInt(circulation.OverdueDays(l.DueDate, now), 10),
			strconv.Itoa(l.RenewalCount),
			strconv.FormatFloat(a.policy.AccruedFee(l, now), 'f', 2, 64),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
