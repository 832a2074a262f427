package admin

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

// StatusCount is the number of payments in one status
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// SettlementOverview summarizes money movement over a window
type SettlementOverview struct {
	Since                time.Time       `json:"since"`
	PaymentsByStatus     []StatusCount   `json:"payments_by_status"`
	GrossRevenue         decimal.Decimal `json:"gross_revenue"`
	PlatformCommission   decimal.Decimal `json:"platform_commission"`
	InstructorEarnings   decimal.Decimal `json:"instructor_earnings"`
	RefundedAmount       decimal.Decimal `json:"refunded_amount"`
	Enrollments          int64           `json:"enrollments"`
	OpenDiscrepancies    int64           `json:"open_discrepancies"`
	StalePendingPayments int64           `json:"stale_pending_payments"`
}

type moneyTotals struct {
	Gross      decimal.Decimal
	Commission decimal.Decimal
	Instructor decimal.Decimal
}

// GetSettlementOverview reports payment counts and the commission split for
// succeeded payments created in the last ?days= days (default 30).
// GET /admin/analytics/overview
func GetSettlementOverview(c *fiber.Ctx, store database.Storage) error {
	days, err := strconv.Atoi(c.Query("days", "30"))
	if err != nil || days < 1 || days > 366 {
		return response.BadRequest(c, "days must be between 1 and 366")
	}

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -days)
	db := store.GetDB().WithContext(c.UserContext())

	overview := SettlementOverview{Since: since, PaymentsByStatus: []StatusCount{}}

	if err := db.Model(&model.Payment{}).
		Select("status, COUNT(*) as count").
		Where("created_at >= ?", since).
		Group("status").
		Order("status").
		Scan(&overview.PaymentsByStatus).Error; err != nil {
		return response.InternalServerError(c, "Failed to count payments")
	}

	var totals moneyTotals
	if err := db.Model(&model.Payment{}).
		Select("COALESCE(SUM(amount), 0) as gross, COALESCE(SUM(platform_commission), 0) as commission, COALESCE(SUM(instructor_amount), 0) as instructor").
		Where("created_at >= ? AND status = ?", since, model.PaymentSucceeded).
		Scan(&totals).Error; err != nil {
		return response.InternalServerError(c, "Failed to sum revenue")
	}
	overview.GrossRevenue = totals.Gross.Round(2)
	overview.PlatformCommission = totals.Commission.Round(2)
	overview.InstructorEarnings = totals.Instructor.Round(2)

	var refunded struct{ Total decimal.Decimal }
	if err := db.Model(&model.Payment{}).
		Select("COALESCE(SUM(refunded_amount), 0) as total").
		Where("created_at >= ? AND status = ?", since, model.PaymentRefunded).
		Scan(&refunded).Error; err != nil {
		return response.InternalServerError(c, "Failed to sum refunds")
	}
	overview.RefundedAmount = refunded.Total.Round(2)

	db.Model(&model.Enrollment{}).Where("enrolled_at >= ?", since).Count(&overview.Enrollments)
	db.Model(&model.EnrollmentDiscrepancy{}).Where("status = ?", model.DiscrepancyOpen).Count(&overview.OpenDiscrepancies)
	db.Model(&model.Payment{}).
		Where("status = ? AND created_at < ?", model.PaymentPending, now.Add(-30*time.Minute)).
		Count(&overview.StalePendingPayments)

	return response.SuccessWithMessage(c, "Settlement overview retrieved successfully", overview)
}
