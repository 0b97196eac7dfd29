package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"libraryhub/pkg/domain"
)

const migrateLockID int64 = 51413141

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&TitleModel{}, &LoanModel{}, &LoanEventModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// One open loan per (title, member), enforced by the database as well.
	if err := tx.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS loan_models_open_title_member_idx
		ON loan_models (title_id, member_id)
		WHERE status = 'issued'
	`).Error; err != nil {
		return fmt.Errorf("ensure open loan index: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'title_models'
				AND constraint_name = 'title_models_available_copies_check'
			) THEN
				ALTER TABLE title_models
				ADD CONSTRAINT title_models_available_copies_check
				CHECK (available_copies >= 0 AND available_copies <= total_copies);
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'loan_models'
				AND constraint_name = 'loan_models_late_fee_check'
			) THEN
				ALTER TABLE loan_models
				ADD CONSTRAINT loan_models_late_fee_check CHECK (late_fee >= 0);
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure ledger constraints: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinTx runs fn inside a database transaction bound to ctx.
func (s *GormStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// GetTitle returns a title without locking it.
func (s *GormStore) GetTitle(ctx context.Context, id string) (domain.Title, bool, error) {
	var model TitleModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Title{}, false, nil
		}
		return domain.Title{}, false, err
	}
	return titleFromModel(model), true, nil
}

// GetLoan returns a loan without locking it.
func (s *GormStore) GetLoan(ctx context.Context, id string) (domain.LoanRecord, bool, error) {
	var model LoanModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LoanRecord{}, false, nil
		}
		return domain.LoanRecord{}, false, err
	}
	return loanFromModel(model), true, nil
}

// ListActiveLoans returns open loans ordered by due date.
func (s *GormStore) ListActiveLoans(ctx context.Context) ([]domain.LoanRecord, error) {
	return s.listLoans(ctx, "due_date ASC, created_at ASC", "status = ?", string(domain.LoanIssued))
}

// ListOverdueLoans returns open loans due before now.
func (s *GormStore) ListOverdueLoans(ctx context.Context, now time.Time) ([]domain.LoanRecord, error) {
	return s.listLoans(ctx, "due_date ASC, created_at ASC", "status = ? AND due_date < ?", string(domain.LoanIssued), now)
}

// ListLoansByMember returns a member's loans, newest first.
func (s *GormStore) ListLoansByMember(ctx context.Context, memberID string) ([]domain.LoanRecord, error) {
	return s.listLoans(ctx, "created_at DESC, id DESC", "member_id = ?", memberID)
}

func (s *GormStore) listLoans(ctx context.Context, order string, conds ...any) ([]domain.LoanRecord, error) {
	var models []LoanModel
	tx := s.db.WithContext(ctx).Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LoanRecord, 0, len(models))
	for _, m := range models {
		res = append(res, loanFromModel(m))
	}
	return res, nil
}

// ListLoanEvents returns the audit trail of a loan, oldest first.
func (s *GormStore) ListLoanEvents(ctx context.Context, loanID string) ([]domain.LoanEvent, error) {
	var models []LoanEventModel
	if err := s.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("occurred_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LoanEvent, 0, len(models))
	for _, m := range models {
		e, err := eventFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// gormTx binds Ledger and LoanStore writes to one *gorm.DB transaction.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) FindTitle(id string) (domain.Title, bool, error) {
	var model TitleModel
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Title{}, false, nil
		}
		return domain.Title{}, false, err
	}
	return titleFromModel(model), true, nil
}

func (t *gormTx) AdjustAvailableCopies(id string, delta int) error {
	res := t.db.Model(&TitleModel{}).
		Where("id = ? AND available_copies + ? >= 0", id, delta).
		Updates(map[string]any{
			"available_copies": gorm.Expr("LEAST(total_copies, available_copies + ?)", delta),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := t.db.Model(&TitleModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrTitleNotFound
	}
	return ErrInsufficientCopies
}

func (t *gormTx) SaveTitle(title domain.Title) error {
	model := titleToModel(title)
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "total_copies", "available_copies", "updated_at"}),
	}).Create(&model).Error
}

func (t *gormTx) GetLoan(id string) (domain.LoanRecord, bool, error) {
	var model LoanModel
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LoanRecord{}, false, nil
		}
		return domain.LoanRecord{}, false, err
	}
	return loanFromModel(model), true, nil
}

func (t *gormTx) FindOpenLoan(titleID, memberID string) (domain.LoanRecord, bool, error) {
	var models []LoanModel
	if err := t.db.
		Where("title_id = ? AND member_id = ? AND status = ?", titleID, memberID, string(domain.LoanIssued)).
		Limit(1).
		Find(&models).Error; err != nil {
		return domain.LoanRecord{}, false, err
	}
	if len(models) == 0 {
		return domain.LoanRecord{}, false, nil
	}
	return loanFromModel(models[0]), true, nil
}

func (t *gormTx) CountOpenLoans(titleID string) (int, error) {
	var count int64
	if err := t.db.Model(&LoanModel{}).
		Where("title_id = ? AND status = ?", titleID, string(domain.LoanIssued)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (t *gormTx) CreateLoan(l domain.LoanRecord) error {
	model := loanToModel(l)
	if err := t.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOpenLoan
		}
		return err
	}
	return nil
}

func (t *gormTx) UpdateLoan(l domain.LoanRecord) error {
	res := t.db.Model(&LoanModel{}).
		Where("id = ?", l.ID).
		Updates(map[string]any{
			"due_date":      l.DueDate,
			"return_date":   l.ReturnDate,
			"status":        string(l.Status),
			"renewal_count": l.RenewalCount,
			"late_fee":      l.LateFee,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func (t *gormTx) AppendEvent(e domain.LoanEvent) error {
	model, err := eventToModel(e)
	if err != nil {
		return err
	}
	return t.db.Create(&model).Error
}

// Savepoint relies on GORM turning a nested Transaction into SAVEPOINT / ROLLBACK TO.
func (t *gormTx) Savepoint(fn func(Tx) error) error {
	return t.db.Transaction(func(sp *gorm.DB) error {
		return fn(&gormTx{db: sp})
	})
}

func titleToModel(t domain.Title) TitleModel {
	return TitleModel{
		ID:              t.ID,
		Name:            t.Name,
		TotalCopies:     t.TotalCopies,
		AvailableCopies: t.AvailableCopies,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func titleFromModel(m TitleModel) domain.Title {
	return domain.Title{
		ID:              m.ID,
		Name:            m.Name,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func loanToModel(l domain.LoanRecord) LoanModel {
	return LoanModel{
		ID:           l.ID,
		TitleID:      l.TitleID,
		MemberID:     l.MemberID,
		IssuedByID:   l.IssuedByID,
		IssueDate:    l.IssueDate,
		DueDate:      l.DueDate,
		ReturnDate:   l.ReturnDate,
		Status:       string(l.Status),
		RenewalCount: l.RenewalCount,
		LateFee:      l.LateFee,
		CreatedAt:    l.CreatedAt,
	}
}

func loanFromModel(m LoanModel) domain.LoanRecord {
	return domain.LoanRecord{
		ID:           m.ID,
		TitleID:      m.TitleID,
		MemberID:     m.MemberID,
		IssuedByID:   m.IssuedByID,
		IssueDate:    m.IssueDate,
		DueDate:      m.DueDate,
		ReturnDate:   m.ReturnDate,
		Status:       domain.LoanStatus(m.Status),
		RenewalCount: m.RenewalCount,
		LateFee:      m.LateFee,
		CreatedAt:    m.CreatedAt,
	}
}

func eventToModel(e domain.LoanEvent) (LoanEventModel, error) {
	var details datatypes.JSON
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return LoanEventModel{}, fmt.Errorf("encode event details: %w", err)
		}
		details = datatypes.JSON(raw)
	}
	return LoanEventModel{
		ID:         e.ID,
		LoanID:     e.LoanID,
		Type:       string(e.Type),
		TitleID:    e.TitleID,
		MemberID:   e.MemberID,
		ActorID:    e.ActorID,
		Details:    details,
		OccurredAt: e.OccurredAt,
	}, nil
}

func eventFromModel(m LoanEventModel) (domain.LoanEvent, error) {
	e := domain.LoanEvent{
		ID:         m.ID,
		LoanID:     m.LoanID,
		Type:       domain.LoanEventType(m.Type),
		TitleID:    m.TitleID,
		MemberID:   m.MemberID,
		ActorID:    m.ActorID,
		OccurredAt: m.OccurredAt,
	}
	if len(m.Details) > 0 {
		if err := json.Unmarshal(m.Details, &e.Details); err != nil {
			return domain.LoanEvent{}, fmt.Errorf("decode event details: %w", err)
		}
	}
	return e, nil
}
