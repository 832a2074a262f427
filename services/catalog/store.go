// Package catalog reads courses and owns the enrollment roster.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sahilchouksey/coursemarket/model"
)

var (
	ErrCourseNotFound     = errors.New("course not found")
	ErrCourseNotPublished = errors.New("course is not published")
	ErrAlreadyEnrolled    = errors.New("student already enrolled in this course")
	ErrNotEnrolled        = errors.New("student not enrolled in this course")
	ErrLessonNotFound     = errors.New("lesson not found in this course")
)

// Store is the course catalog and roster backed by GORM.
// Build one per *gorm.DB; pass a transaction handle to join a transaction.
type Store struct {
	db *gorm.DB
}

// NewStore creates a catalog store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindByID loads any course regardless of status
func (s *Store) FindByID(ctx context.Context, courseID uint) (*model.Course, error) {
	var course model.Course
	err := s.db.WithContext(ctx).
		Preload("Lessons", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&course, courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch course: %w", err)
	}
	return &course, nil
}

// FindPublishedByID loads a course that can be bought or enrolled in.
// Missing and unpublished courses return different errors.
func (s *Store) FindPublishedByID(ctx context.Context, courseID uint) (*model.Course, error) {
	course, err := s.FindByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsPublished() {
		return nil, ErrCourseNotPublished
	}
	return course, nil
}

// ListPublished returns a page of published courses, newest first
func (s *Store) ListPublished(ctx context.Context, limit, offset int) ([]model.Course, int64, error) {
	var courses []model.Course
	var total int64

	query := s.db.WithContext(ctx).Model(&model.Course{}).
		Where("status = ?", model.CourseStatusPublished)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count courses: %w", err)
	}

	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&courses).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch courses: %w", err)
	}

	return courses, total, nil
}

// IsEnrolled reports whether the user is on the course roster
func (s *Store) IsEnrolled(ctx context.Context, courseID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Enrollment{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return count > 0, nil
}

// Enrollment loads a single roster entry
func (s *Store) Enrollment(ctx context.Context, courseID, userID uint) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := s.db.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		First(&enrollment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch enrollment: %w", err)
	}
	return &enrollment, nil
}

// EnrollStudent adds the user to the roster. It returns ErrAlreadyEnrolled when
// the entry exists; callers treat that as the idempotency signal.
func (s *Store) EnrollStudent(ctx context.Context, courseID, userID uint, paymentID *uint) (*model.Enrollment, error) {
	enrollment := &model.Enrollment{
		CourseID:         courseID,
		UserID:           userID,
		PaymentID:        paymentID,
		EnrolledAt:       time.Now().UTC(),
		CompletedLessons: []model.CompletedLesson{},
	}

	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(enrollment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrAlreadyEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enroll student: %w", err)
	}
	return enrollment, nil
}

// RemoveEnrollment deletes exactly one roster entry. Removing a missing
// entry returns ErrNotEnrolled.
func (s *Store) RemoveEnrollment(ctx context.Context, courseID, userID uint) error {
	result := s.db.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Delete(&model.Enrollment{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove enrollment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotEnrolled
	}
	return nil
}

// ListEnrolledCourses returns the user's roster entries with their courses, most recent first
func (s *Store) ListEnrolledCourses(ctx context.Context, userID uint) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment
	err := s.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", userID).
		Order("enrolled_at DESC").
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch enrolled courses: %w", err)
	}
	return enrollments, nil
}

// CompleteLesson records a finished lesson, recomputes progress as the rounded
// percentage of completed lessons, and touches last_accessed_at.
// Completing the same lesson twice only refreshes the access time.
func (s *Store) CompleteLesson(ctx context.Context, courseID, userID, lessonID uint) (*model.Enrollment, error) {
	var enrollment model.Enrollment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lessonCount int64
		if err := tx.Model(&model.Lesson{}).Where("course_id = ?", courseID).Count(&lessonCount).Error; err != nil {
			return fmt.Errorf("failed to count lessons: %w", err)
		}

		var lesson model.Lesson
		err := tx.Where("id = ? AND course_id = ?", lessonID, courseID).First(&lesson).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLessonNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to fetch lesson: %w", err)
		}

		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("course_id = ? AND user_id = ?", courseID, userID).
			First(&enrollment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotEnrolled
		}
		if err != nil {
			return fmt.Errorf("failed to fetch enrollment: %w", err)
		}

		now := time.Now().UTC()
		if !enrollment.HasCompleted(lessonID) {
			enrollment.CompletedLessons = append(enrollment.CompletedLessons, model.CompletedLesson{
				LessonID:    lessonID,
				CompletedAt: now,
			})
		}
		enrollment.Progress = progressPercent(len(enrollment.CompletedLessons), int(lessonCount))
		enrollment.LastAccessedAt = &now

		return tx.Model(&model.Enrollment{}).
			Where("course_id = ? AND user_id = ?", courseID, userID).
			Updates(map[string]interface{}{
				"completed_lessons": enrollment.CompletedLessons,
				"progress":          enrollment.Progress,
				"last_accessed_at":  now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func progressPercent(completed, total int) int {
	if total == 0 {
		return 0
	}
	p := int(math.Round(float64(completed) / float64(total) * 100))
	if p > 100 {
		p = 100
	}
	return p
}
