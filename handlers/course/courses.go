package course

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/coursemarket/handlers"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

// CourseHandler serves the public catalog
type CourseHandler struct {
	catalog *catalog.Store
}

// NewCourseHandler creates a new course handler
func NewCourseHandler(store *catalog.Store) *CourseHandler {
	return &CourseHandler{catalog: store}
}

// ListCourses handles GET /api/v1/courses
func (h *CourseHandler) ListCourses(c *fiber.Ctx) error {
	page, limit, offset := handlers.PageParams(c)

	courses, total, err := h.catalog.ListPublished(c.UserContext(), limit, offset)
	if err != nil {
		return response.InternalServerError(c, "Failed to fetch courses")
	}

	return response.Paginated(c, courses, response.CalculatePagination(page, limit, total))
}

// GetCourse handles GET /api/v1/courses/:id
func (h *CourseHandler) GetCourse(c *fiber.Ctx) error {
	id, ok := handlers.IDParam(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid course ID")
	}

	course, err := h.catalog.FindPublishedByID(c.UserContext(), id)
	if err != nil {
		// Drafts are indistinguishable from missing courses
		if errors.Is(err, catalog.ErrCourseNotFound) || errors.Is(err, catalog.ErrCourseNotPublished) {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to fetch course")
	}

	return response.Success(c, course)
}
