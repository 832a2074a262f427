package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/utils/testutil"
)

func TestFindPublishedByID(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := context.Background()

	instructor := testutil.CreateUser(t, db, "teach@example.com", model.RoleInstructor)
	published := testutil.CreateCourse(t, db, instructor.ID, "49.99", model.CourseStatusPublished)
	draft := testutil.CreateCourse(t, db, instructor.ID, "10.00", model.CourseStatusDraft)

	course, err := store.FindPublishedByID(ctx, published.ID)
	require.NoError(t, err)
	assert.Equal(t, "49.99", course.Price.StringFixed(2))
	assert.Len(t, course.Lessons, 4)
	assert.Equal(t, "Intro", course.Lessons[0].Title)

	_, err = store.FindPublishedByID(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrCourseNotPublished)

	_, err = store.FindPublishedByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrCourseNotFound)
}

func TestEnrollStudentIsUniquePerCourse(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := context.Background()

	instructor := testutil.CreateUser(t, db, "teach@example.com", model.RoleInstructor)
	student := testutil.CreateUser(t, db, "student@example.com", model.RoleStudent)
	course := testutil.CreateCourse(t, db, instructor.ID, "0", model.CourseStatusPublished)

	_, err := store.EnrollStudent(ctx, course.ID, student.ID, nil)
	require.NoError(t, err)

	_, err = store.EnrollStudent(ctx, course.ID, student.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	var count int64
	require.NoError(t, db.Model(&model.Enrollment{}).Where("course_id = ?", course.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	enrolled, err := store.IsEnrolled(ctx, course.ID, student.ID)
	require.NoError(t, err)
	assert.True(t, enrolled)
}

func TestRemoveEnrollmentOnlyTouchesMatchingEntry(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := context.Background()

	instructor := testutil.CreateUser(t, db, "teach@example.com", model.RoleInstructor)
	alice := testutil.CreateUser(t, db, "alice@example.com", model.RoleStudent)
	bob := testutil.CreateUser(t, db, "bob@example.com", model.RoleStudent)
	courseA := testutil.CreateCourse(t, db, instructor.ID, "0", model.CourseStatusPublished)
	courseB := testutil.CreateCourse(t, db, instructor.ID, "0", model.CourseStatusPublished)

	for _, pair := range [][2]uint{{courseA.ID, alice.ID}, {courseA.ID, bob.ID}, {courseB.ID, alice.ID}} {
		_, err := store.EnrollStudent(ctx, pair[0], pair[1], nil)
		require.NoError(t, err)
	}

	require.NoError(t, store.RemoveEnrollment(ctx, courseA.ID, alice.ID))

	enrolled, _ := store.IsEnrolled(ctx, courseA.ID, alice.ID)
	assert.False(t, enrolled)
	enrolled, _ = store.IsEnrolled(ctx, courseA.ID, bob.ID)
	assert.True(t, enrolled)
	enrolled, _ = store.IsEnrolled(ctx, courseB.ID, alice.ID)
	assert.True(t, enrolled)

	assert.ErrorIs(t, store.RemoveEnrollment(ctx, courseA.ID, alice.ID), ErrNotEnrolled)
}

func TestCompleteLesson(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := context.Background()

	instructor := testutil.CreateUser(t, db, "teach@example.com", model.RoleInstructor)
	student := testutil.CreateUser(t, db, "student@example.com", model.RoleStudent)
	course := testutil.CreateCourse(t, db, instructor.ID, "0", model.CourseStatusPublished)
	other := testutil.CreateCourse(t, db, instructor.ID, "0", model.CourseStatusPublished)

	_, err := store.CompleteLesson(ctx, course.ID, student.ID, course.Lessons[0].ID)
	assert.ErrorIs(t, err, ErrNotEnrolled)

	_, err = store.EnrollStudent(ctx, course.ID, student.ID, nil)
	require.NoError(t, err)

	enrollment, err := store.CompleteLesson(ctx, course.ID, student.ID, course.Lessons[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 25, enrollment.Progress)
	assert.NotNil(t, enrollment.LastAccessedAt)

	// Repeating a lesson does not inflate progress
	enrollment, err = store.CompleteLesson(ctx, course.ID, student.ID, course.Lessons[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 25, enrollment.Progress)
	assert.Len(t, enrollment.CompletedLessons, 1)

	_, err = store.CompleteLesson(ctx, course.ID, student.ID, other.Lessons[0].ID)
	assert.ErrorIs(t, err, ErrLessonNotFound)

	for _, lesson := range course.Lessons[1:] {
		enrollment, err = store.CompleteLesson(ctx, course.ID, student.ID, lesson.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 100, enrollment.Progress)

	stored, err := store.Enrollment(ctx, course.ID, student.ID)
	require.NoError(t, err)
	assert.Len(t, stored.CompletedLessons, 4)
	assert.Equal(t, 100, stored.Progress)
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, progressPercent(0, 0))
	assert.Equal(t, 33, progressPercent(1, 3))
	assert.Equal(t, 67, progressPercent(2, 3))
	assert.Equal(t, 100, progressPercent(3, 3))
}

func TestListPublished(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)

	instructor := testutil.CreateUser(t, db, "teach@example.com", model.RoleInstructor)
	testutil.CreateCourse(t, db, instructor.ID, "10.00", model.CourseStatusPublished)
	testutil.CreateCourse(t, db, instructor.ID, "20.00", model.CourseStatusPublished)
	testutil.CreateCourse(t, db, instructor.ID, "30.00", model.CourseStatusArchived)

	courses, total, err := store.ListPublished(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, courses, 2)
}
