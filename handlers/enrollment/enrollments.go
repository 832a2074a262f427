package enrollment

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/coursemarket/handlers"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/services/settlement"
	"github.com/sahilchouksey/coursemarket/utils/logging"
	"github.com/sahilchouksey/coursemarket/utils/middleware"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

// EnrollmentHandler handles roster requests for the signed in user
type EnrollmentHandler struct {
	engine  *settlement.Engine
	catalog *catalog.Store
}

// NewEnrollmentHandler creates a new enrollment handler
func NewEnrollmentHandler(engine *settlement.Engine, store *catalog.Store) *EnrollmentHandler {
	return &EnrollmentHandler{
		engine:  engine,
		catalog: store,
	}
}

// Enroll handles POST /api/v1/enrollments/:course_id (free courses only)
func (h *EnrollmentHandler) Enroll(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	courseID, ok := handlers.IDParam(c, "course_id")
	if !ok {
		return response.BadRequest(c, "Invalid course ID")
	}

	enrollment, err := h.engine.EnrollDirect(c.UserContext(), userID, courseID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, "Enrolled successfully", enrollment)
}

// Unenroll handles DELETE /api/v1/enrollments/:course_id
func (h *EnrollmentHandler) Unenroll(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	courseID, ok := handlers.IDParam(c, "course_id")
	if !ok {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.engine.Unenroll(c.UserContext(), userID, courseID); err != nil {
		return response.FromError(c, err)
	}

	return response.SuccessWithMessage(c, "Unenrolled successfully", fiber.Map{"course_id": courseID, "enrolled": false})
}

// MyCourses handles GET /api/v1/enrollments/my-courses
func (h *EnrollmentHandler) MyCourses(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	enrollments, err := h.catalog.ListEnrolledCourses(c.UserContext(), userID)
	if err != nil {
		logging.Error().Err(err).Uint("user_id", userID).Msg("Failed to list enrolled courses")
		return response.InternalServerError(c, "Failed to fetch enrolled courses")
	}

	return response.Success(c, enrollments)
}

// Status handles GET /api/v1/enrollments/:course_id/status
func (h *EnrollmentHandler) Status(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	courseID, ok := handlers.IDParam(c, "course_id")
	if !ok {
		return response.BadRequest(c, "Invalid course ID")
	}

	enrolled, err := h.engine.IsEnrolled(c.UserContext(), courseID, userID)
	if err != nil {
		return response.InternalServerError(c, "Failed to check enrollment")
	}

	return response.Success(c, fiber.Map{"course_id": courseID, "enrolled": enrolled})
}

// CompleteLesson handles POST /api/v1/enrollments/:course_id/lessons/:lesson_id/complete
func (h *EnrollmentHandler) CompleteLesson(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	courseID, ok := handlers.IDParam(c, "course_id")
	if !ok {
		return response.BadRequest(c, "Invalid course ID")
	}
	lessonID, ok := handlers.IDParam(c, "lesson_id")
	if !ok {
		return response.BadRequest(c, "Invalid lesson ID")
	}

	enrollment, err := h.catalog.CompleteLesson(c.UserContext(), courseID, userID, lessonID)
	switch {
	case errors.Is(err, catalog.ErrNotEnrolled):
		return response.Forbidden(c, "You are not enrolled in this course")
	case errors.Is(err, catalog.ErrLessonNotFound):
		return response.NotFound(c, "Lesson not found")
	case err != nil:
		logging.Error().Err(err).Uint("course_id", courseID).Uint("lesson_id", lessonID).Msg("Failed to record lesson completion")
		return response.InternalServerError(c, "Failed to update progress")
	}

	return response.Success(c, enrollment)
}
