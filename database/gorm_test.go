package database_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/utils/testutil"
)

func TestMigrateRejectsNegativeCoursePrice(t *testing.T) {
	db := testutil.NewDB(t)
	instructor := testutil.CreateUser(t, db, "teach@example.com", model.RoleInstructor)

	course := &model.Course{
		InstructorID: instructor.ID,
		Title:        "Broken pricing",
		Price:        decimal.RequireFromString("-5.00"),
		Status:       model.CourseStatusPublished,
	}
	assert.Error(t, db.Create(course).Error)

	course.Price = decimal.Zero
	require.NoError(t, db.Create(course).Error)
	assert.Error(t, db.Model(course).Update("price", decimal.RequireFromString("-0.01")).Error)
}
