package model

import (
	"time"

	"gorm.io/datatypes"
)

// CompletedLesson records when a student finished a lesson
type CompletedLesson struct {
	LessonID    uint      `json:"lesson_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Enrollment is one roster entry. The composite key guarantees a student
// appears at most once per course.
type Enrollment struct {
	CourseID         uint                                 `gorm:"primaryKey;autoIncrement:false" json:"course_id"`
	UserID           uint                                 `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	PaymentID        *uint                                `gorm:"index" json:"payment_id,omitempty"` // nil for free enrollments
	EnrolledAt       time.Time                            `gorm:"not null" json:"enrolled_at"`
	Progress         int                                  `gorm:"not null;default:0" json:"progress"` // 0-100
	CompletedLessons datatypes.JSONSlice[CompletedLesson] `json:"completed_lessons"`
	LastAccessedAt   *time.Time                           `json:"last_accessed_at"`

	// Relationships
	Course Course `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"course,omitempty"`
}

// TableName specifies the table name for Enrollment
func (Enrollment) TableName() string {
	return "enrollments"
}

// HasCompleted reports whether the lesson is already recorded
func (e *Enrollment) HasCompleted(lessonID uint) bool {
	for _, l := range e.CompletedLessons {
		if l.LessonID == lessonID {
			return true
		}
	}
	return false
}
