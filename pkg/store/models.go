package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type TitleModel struct {
	ID              string    `gorm:"primaryKey"`
	Name            string    `gorm:"not null;default:''"`
	TotalCopies     int       `gorm:"not null"`
	AvailableCopies int       `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type LoanModel struct {
	ID           string    `gorm:"primaryKey"`
	TitleID      string    `gorm:"not null;index"`
	MemberID     string    `gorm:"not null;index"`
	IssuedByID   string    `gorm:"not null"`
	IssueDate    time.Time `gorm:"not null"`
	DueDate      time.Time `gorm:"not null;index"`
	ReturnDate   *time.Time
	Status       string    `gorm:"not null;index"`
	RenewalCount int       `gorm:"not null;default:0"`
	LateFee      float64   `gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

type LoanEventModel struct {
	ID         string `gorm:"primaryKey"`
	LoanID     string `gorm:"not null;index"`
	Type       string `gorm:"not null"`
	TitleID    string `gorm:"not null"`
	MemberID   string `gorm:"not null"`
	ActorID    string
	Details    datatypes.JSON `gorm:"type:jsonb"`
	OccurredAt time.Time      `gorm:"not null;index"`
}
