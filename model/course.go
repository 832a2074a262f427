package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Course statuses
const (
	CourseStatusDraft     = "draft"
	CourseStatusPublished = "published"
	CourseStatusArchived  = "archived"
)

// Course is a sellable unit of content owned by one instructor
type Course struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
	InstructorID uint            `gorm:"not null;index" json:"instructor_id"`
	Title        string          `gorm:"not null" json:"title"`
	Description  string          `gorm:"type:text" json:"description"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0;check:chk_courses_price_nonnegative,price >= 0" json:"price"`
	Status       string          `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"` // draft, published, archived

	// Relationships
	Instructor User     `gorm:"foreignKey:InstructorID" json:"-"`
	Lessons    []Lesson `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"lessons,omitempty"`
}

// IsPublished reports whether the course can be bought or enrolled in
func (c *Course) IsPublished() bool {
	return c.Status == CourseStatusPublished
}

// IsFree reports whether the course bypasses payment
func (c *Course) IsFree() bool {
	return c.Price.IsZero()
}

// HasValidPrice reports whether the price can be charged or waived
func (c *Course) HasValidPrice() bool {
	return !c.Price.IsNegative()
}

// Lesson is one ordered unit within a course
type Lesson struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CourseID        uint      `gorm:"not null;index" json:"course_id"`
	Title           string    `gorm:"not null" json:"title"`
	Position        int       `gorm:"not null;default:0" json:"position"`
	DurationMinutes int       `gorm:"default:0" json:"duration_minutes"`
}
