// Package testutil provides in-memory databases and fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/model"
)

var dbCounter atomic.Int64

// NewDB opens a fresh, migrated in-memory SQLite database for one test.
// A single connection keeps every goroutine on the same in-memory database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_foreign_keys=1", dbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), database.Config(logger.Default.LogMode(logger.Silent)))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// CreateUser inserts a user with the given role
func CreateUser(t *testing.T, db *gorm.DB, email, role string) *model.User {
	t.Helper()

	user := &model.User{Email: email, Name: email, Role: role}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateCourse inserts a course owned by instructorID with the given price and status
func CreateCourse(t *testing.T, db *gorm.DB, instructorID uint, price string, status string) *model.Course {
	t.Helper()

	course := &model.Course{
		InstructorID: instructorID,
		Title:        "Course " + price,
		Price:        decimal.RequireFromString(price),
		Status:       status,
		Lessons: []model.Lesson{
			{Title: "Intro", Position: 1},
			{Title: "Basics", Position: 2},
			{Title: "Wrap-up", Position: 3},
			{Title: "Project", Position: 4},
		},
	}
	require.NoError(t, db.Create(course).Error)
	return course
}
