package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CourseStatusPublished is the only catalog status that can be purchased.
const CourseStatusPublished = "published"

// Course is the read-only catalog view used for pricing and enrollment checks.
type Course struct {
	ID        string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title     string          `gorm:"type:varchar(255);not null" json:"title"`
	Slug      string          `gorm:"type:varchar(255);index" json:"slug"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Currency  string          `gorm:"type:varchar(10);not null;default:'INR'" json:"currency"`
	Status    string          `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPurchasable reports whether the course can be sold right now.
func (c *Course) IsPurchasable() bool {
	return c.Status == CourseStatusPublished
}
