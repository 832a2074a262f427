package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/handlers"
	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/settlement"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

// ListDiscrepancies lists roster changes awaiting retry, newest first.
// ?status=open|resolved filters, default open.
// GET /admin/discrepancies
func ListDiscrepancies(c *fiber.Ctx, store database.Storage) error {
	page, limit, offset := handlers.PageParams(c)

	status := c.Query("status", model.DiscrepancyOpen)
	if status != model.DiscrepancyOpen && status != model.DiscrepancyResolved {
		return response.BadRequest(c, "status must be open or resolved")
	}

	query := store.GetDB().WithContext(c.UserContext()).
		Model(&model.EnrollmentDiscrepancy{}).
		Where("status = ?", status)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return response.InternalServerError(c, "Failed to count discrepancies")
	}

	var rows []model.EnrollmentDiscrepancy
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch discrepancies")
	}

	return response.Paginated(c, rows, response.CalculatePagination(page, limit, total))
}

// RetryDiscrepancies runs one retry pass immediately instead of waiting for the cron job
// POST /admin/discrepancies/retry
func RetryDiscrepancies(engine *settlement.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := engine.RetryDiscrepancies(c.UserContext(), 100)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.SuccessWithMessage(c, "Discrepancy retry completed", result)
	}
}
