package database

import (
	"fmt"
	"os"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/utils/logging"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Demo accounts created by the seeder. The admin email can be overridden with ADMIN_EMAIL.
const (
	DefaultAdminEmail = "admin@coursemarket.local"
	InstructorEmail   = "instructor@coursemarket.local"
	StudentEmail      = "student@coursemarket.local"
)

// Seeder handles database seeding operations
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// SeedAll runs all seed functions
func (s *Seeder) SeedAll() error {
	log := logging.With("seed")
	log.Info().Msg("Starting database seeding")

	// Courses reference the instructor, so users go first
	if err := s.SeedUsers(); err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	if err := s.SeedCourses(); err != nil {
		return fmt.Errorf("failed to seed courses: %w", err)
	}

	log.Info().Msg("Database seeding completed")
	return nil
}

// AdminEmail returns the address the admin account is seeded under
func AdminEmail() string {
	if email := os.Getenv("ADMIN_EMAIL"); email != "" {
		return email
	}
	return DefaultAdminEmail
}

// SeedUsers creates one admin, one instructor and two students. Existing emails are skipped.
func (s *Seeder) SeedUsers() error {
	log := logging.With("seed")

	users := []model.User{
		{Email: AdminEmail(), Name: "Platform Administrator", Role: model.RoleAdmin},
		{Email: InstructorEmail, Name: "Demo Instructor", Role: model.RoleInstructor},
		{Email: StudentEmail, Name: "Demo Student", Role: model.RoleStudent},
		{Email: "student2@coursemarket.local", Name: "Second Student", Role: model.RoleStudent},
	}

	created := 0
	for i := range users {
		var count int64
		if err := s.db.Model(&model.User{}).Where("email = ?", users[i].Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := s.db.Create(&users[i]).Error; err != nil {
			return err
		}
		created++
	}

	if created == 0 {
		log.Info().Msg("Users already exist, skipping")
		return nil
	}

	log.Info().Int("count", created).Msg("Created users")
	return nil
}

// SeedCourses creates a paid, a free and a draft course owned by the demo instructor
func (s *Seeder) SeedCourses() error {
	log := logging.With("seed")

	var count int64
	if err := s.db.Model(&model.Course{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		log.Info().Msg("Courses already exist, skipping")
		return nil
	}

	var instructor model.User
	if err := s.db.Where("email = ?", InstructorEmail).First(&instructor).Error; err != nil {
		return fmt.Errorf("no instructor found, seed users first: %w", err)
	}

	courses := []model.Course{
		{
			InstructorID: instructor.ID,
			Title:        "Go for Backend Engineers",
			Description:  "Services, concurrency and testing in production Go",
			Price:        decimal.RequireFromString("100.00"),
			Status:       model.CourseStatusPublished,
			Lessons: []model.Lesson{
				{Title: "Tooling and modules", Position: 1, DurationMinutes: 20},
				{Title: "Interfaces and composition", Position: 2, DurationMinutes: 35},
				{Title: "Goroutines and channels", Position: 3, DurationMinutes: 40},
				{Title: "Testing with testify", Position: 4, DurationMinutes: 30},
			},
		},
		{
			InstructorID: instructor.ID,
			Title:        "SQL Fundamentals",
			Description:  "Queries, joins and indexes",
			Price:        decimal.Zero,
			Status:       model.CourseStatusPublished,
			Lessons: []model.Lesson{
				{Title: "SELECT and WHERE", Position: 1, DurationMinutes: 15},
				{Title: "Joins", Position: 2, DurationMinutes: 25},
			},
		},
		{
			InstructorID: instructor.ID,
			Title:        "Distributed Systems (coming soon)",
			Description:  "Consensus, replication and failure handling",
			Price:        decimal.RequireFromString("249.99"),
			Status:       model.CourseStatusDraft,
		},
	}

	if err := s.db.Create(&courses).Error; err != nil {
		return err
	}

	log.Info().Int("count", len(courses)).Msg("Created courses")
	return nil
}

// RunSeeds is a convenience function to run all seeds
func RunSeeds(db *gorm.DB) error {
	seeder := NewSeeder(db)
	return seeder.SeedAll()
}
