package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"libraryhub/pkg/domain"
)

// MemoryStore keeps circulation state in-process. Transactions hold the write
// lock for their whole duration, so they are fully serialized.
type MemoryStore struct {
	mu     sync.RWMutex
	titles map[string]domain.Title
	loans  map[string]domain.LoanRecord
	order  []string // loan ids in creation order
	events []domain.LoanEvent
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		titles: make(map[string]domain.Title),
		loans:  make(map[string]domain.LoanRecord),
	}
}

// WithinTx stages every write and applies them only if fn succeeds and ctx
// is still live at commit time.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		base:   m,
		titles: make(map[string]domain.Title),
		loans:  make(map[string]domain.LoanRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	maps.Copy(m.titles, tx.titles)
	maps.Copy(m.loans, tx.loans)
	m.order = append(m.order, tx.created...)
	m.events = append(m.events, tx.events...)
	return nil
}

// GetTitle returns a title by ID.
func (m *MemoryStore) GetTitle(_ context.Context, id string) (domain.Title, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.titles[id]
	return t, ok, nil
}

// GetLoan returns a loan by ID.
func (m *MemoryStore) GetLoan(_ context.Context, id string) (domain.LoanRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	return cloneLoan(l), ok, nil
}

// ListActiveLoans returns open loans by due date.
func (m *MemoryStore) ListActiveLoans(_ context.Context) ([]domain.LoanRecord, error) {
	return m.filterLoans(func(l domain.LoanRecord) bool { return l.IsOpen() }, byDueDate), nil
}

// ListOverdueLoans returns open loans past due at now.
func (m *MemoryStore) ListOverdueLoans(_ context.Context, now time.Time) ([]domain.LoanRecord, error) {
	return m.filterLoans(func(l domain.LoanRecord) bool { return l.IsOverdue(now) }, byDueDate), nil
}

// ListLoansByMember returns a member's loans, newest first.
func (m *MemoryStore) ListLoansByMember(_ context.Context, memberID string) ([]domain.LoanRecord, error) {
	res := m.filterLoans(func(l domain.LoanRecord) bool { return l.MemberID == memberID }, nil)
	// filterLoans walks creation order; reverse it and let CreatedAt break any disagreement.
	slices.Reverse(res)
	slices.SortStableFunc(res, func(a, b domain.LoanRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return res, nil
}

// ListLoanEvents returns the audit trail for a loan.
func (m *MemoryStore) ListLoanEvents(_ context.Context, loanID string) ([]domain.LoanEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.LoanEvent, 0)
	for _, e := range m.events {
		if e.LoanID == loanID {
			res = append(res, e)
		}
	}
	slices.SortStableFunc(res, func(a, b domain.LoanEvent) int {
		return a.OccurredAt.Compare(b.OccurredAt)
	})
	return res, nil
}

func (m *MemoryStore) filterLoans(keep func(domain.LoanRecord) bool, cmp func(a, b domain.LoanRecord) int) []domain.LoanRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.LoanRecord, 0)
	for _, id := range m.order {
		if l, ok := m.loans[id]; ok && keep(l) {
			res = append(res, cloneLoan(l))
		}
	}
	if cmp != nil {
		slices.SortStableFunc(res, cmp)
	}
	return res
}

func byDueDate(a, b domain.LoanRecord) int {
	if c := a.DueDate.Compare(b.DueDate); c != 0 {
		return c
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

func cloneLoan(l domain.LoanRecord) domain.LoanRecord {
	if l.ReturnDate != nil {
		rd := *l.ReturnDate
		l.ReturnDate = &rd
	}
	return l
}

// memTx overlays staged writes on top of the base store. The base write lock
// is held by WithinTx for the lifetime of the transaction.
type memTx struct {
	base    *MemoryStore
	titles  map[string]domain.Title
	loans   map[string]domain.LoanRecord
	created []string
	events  []domain.LoanEvent
}

func (t *memTx) FindTitle(id string) (domain.Title, bool, error) {
	if title, ok := t.titles[id]; ok {
		return title, true, nil
	}
	title, ok := t.base.titles[id]
	return title, ok, nil
}

func (t *memTx) AdjustAvailableCopies(id string, delta int) error {
	title, ok, _ := t.FindTitle(id)
	if !ok {
		return ErrTitleNotFound
	}
	next := title.AvailableCopies + delta
	if next < 0 {
		return ErrInsufficientCopies
	}
	title.AvailableCopies = min(next, title.TotalCopies)
	title.UpdatedAt = time.Now().UTC()
	t.titles[id] = title
	return nil
}

func (t *memTx) SaveTitle(title domain.Title) error {
	t.titles[title.ID] = title
	return nil
}

func (t *memTx) GetLoan(id string) (domain.LoanRecord, bool, error) {
	if l, ok := t.loans[id]; ok {
		return cloneLoan(l), true, nil
	}
	l, ok := t.base.loans[id]
	return cloneLoan(l), ok, nil
}

func (t *memTx) FindOpenLoan(titleID, memberID string) (domain.LoanRecord, bool, error) {
	for _, l := range t.visibleLoans() {
		if l.IsOpen() && l.TitleID == titleID && l.MemberID == memberID {
			return cloneLoan(l), true, nil
		}
	}
	return domain.LoanRecord{}, false, nil
}

func (t *memTx) CountOpenLoans(titleID string) (int, error) {
	n := 0
	for _, l := range t.visibleLoans() {
		if l.IsOpen() && l.TitleID == titleID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateLoan(l domain.LoanRecord) error {
	if l.IsOpen() {
		if _, exists, _ := t.FindOpenLoan(l.TitleID, l.MemberID); exists {
			return ErrDuplicateOpenLoan
		}
	}
	t.loans[l.ID] = cloneLoan(l)
	t.created = append(t.created, l.ID)
	return nil
}

func (t *memTx) UpdateLoan(l domain.LoanRecord) error {
	if _, ok, _ := t.GetLoan(l.ID); !ok {
		return ErrLoanNotFound
	}
	t.loans[l.ID] = cloneLoan(l)
	return nil
}

func (t *memTx) AppendEvent(e domain.LoanEvent) error {
	t.events = append(t.events, e)
	return nil
}

func (t *memTx) Savepoint(fn func(Tx) error) error {
	titles := maps.Clone(t.titles)
	loans := maps.Clone(t.loans)
	created := len(t.created)
	events := len(t.events)
	if err := fn(t); err != nil {
		t.titles = titles
		t.loans = loans
		t.created = t.created[:created]
		t.events = t.events[:events]
		return err
	}
	return nil
}

func (t *memTx) visibleLoans() []domain.LoanRecord {
	res := make([]domain.LoanRecord, 0, len(t.base.loans)+len(t.loans))
	for id, l := range t.base.loans {
		if staged, ok := t.loans[id]; ok {
			l = staged
		}
		res = append(res, l)
	}
	for _, id := range t.created {
		res = append(res, t.loans[id])
	}
	return res
}
