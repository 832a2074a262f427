package payment

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/sahilchouksey/coursemarket/handlers"
	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/settlement"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
	"github.com/sahilchouksey/coursemarket/utils/middleware"
	"github.com/sahilchouksey/coursemarket/utils/response"
	"github.com/sahilchouksey/coursemarket/utils/validation"
)

// SignatureHeader carries the processor's webhook signature
const SignatureHeader = "Stripe-Signature"

// PaymentHandler handles purchase, payment status, refund and webhook requests
type PaymentHandler struct {
	engine    *settlement.Engine
	refunds   *settlement.RefundCoordinator
	guard     *middleware.SignatureGuard
	validator *validation.Validator
}

// NewPaymentHandler creates a new payment handler. guard may be nil.
func NewPaymentHandler(engine *settlement.Engine, refunds *settlement.RefundCoordinator, guard *middleware.SignatureGuard) *PaymentHandler {
	return &PaymentHandler{
		engine:    engine,
		refunds:   refunds,
		guard:     guard,
		validator: validation.NewValidator(),
	}
}

// CreateIntentRequest represents the request body for starting a purchase
type CreateIntentRequest struct {
	CourseID uint `json:"course_id" validate:"required,min=1"`
}

// RefundRequest represents the request body for an admin refund
type RefundRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// PaymentResponse is the client view of a payment. The commission split is admin only.
type PaymentResponse struct {
	ID                     uint                `json:"id"`
	UserID                 uint                `json:"user_id"`
	CourseID               uint                `json:"course_id"`
	Amount                 decimal.Decimal     `json:"amount"`
	Currency               string              `json:"currency"`
	Status                 model.PaymentStatus `json:"status"`
	PaymentMethod          string              `json:"payment_method,omitempty"`
	FailureReason          string              `json:"failure_reason,omitempty"`
	RefundedAmount         decimal.Decimal     `json:"refunded_amount"`
	RefundReason           string              `json:"refund_reason,omitempty"`
	PlatformCommission     *decimal.Decimal    `json:"platform_commission,omitempty"`
	InstructorAmount       *decimal.Decimal    `json:"instructor_amount,omitempty"`
	PlatformCommissionRate *decimal.Decimal    `json:"platform_commission_rate,omitempty"`
	PaymentIntentID        string              `json:"payment_intent_id,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	SucceededAt            *time.Time          `json:"succeeded_at,omitempty"`
	RefundedAt             *time.Time          `json:"refunded_at,omitempty"`
}

func toPaymentResponse(p *model.Payment, admin bool) PaymentResponse {
	out := PaymentResponse{
		ID:             p.ID,
		UserID:         p.UserID,
		CourseID:       p.CourseID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         p.Status,
		PaymentMethod:  p.PaymentMethod,
		FailureReason:  p.FailureReason,
		RefundedAmount: p.RefundedAmount,
		RefundReason:   p.RefundReason,
		CreatedAt:      p.CreatedAt,
		SucceededAt:    p.SucceededAt,
		RefundedAt:     p.RefundedAt,
	}
	if admin {
		out.PlatformCommission = &p.PlatformCommission
		out.InstructorAmount = &p.InstructorAmount
		out.PlatformCommissionRate = &p.PlatformCommissionRate
		out.PaymentIntentID = p.PaymentIntentID
	}
	return out
}

// CreateIntent handles POST /api/v1/payments/intents
func (h *PaymentHandler) CreateIntent(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req CreateIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	result, err := h.engine.InitiatePurchase(c.UserContext(), userID, req.CourseID)
	if err != nil {
		return response.FromError(c, err)
	}

	if result.Resumed {
		return response.SuccessWithMessage(c, "Resuming your pending payment", result)
	}
	return response.Created(c, "Payment initiated", result)
}

// Webhook handles POST /api/v1/payments/webhook. The body must be the exact
// bytes the processor signed.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	signature := c.Get(SignatureHeader)
	if signature == "" {
		h.guard.RecordFailure(c.UserContext(), c.IP())
		return response.Error(c, fiber.StatusBadRequest, "Missing webhook signature", "INVALID_SIGNATURE")
	}

	// fiber reuses the request buffer once the handler returns
	payload := append([]byte(nil), c.Body()...)

	if _, err := h.engine.Reconcile(c.UserContext(), payload, signature); err != nil {
		if apperr.Is(err, apperr.Signature) {
			h.guard.RecordFailure(c.UserContext(), c.IP())
		}
		return response.FromError(c, err)
	}

	return c.JSON(fiber.Map{"received": true})
}

// GetPayment handles GET /api/v1/payments/:id
func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	paymentID, ok := handlers.IDParam(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid payment ID")
	}

	admin := middleware.IsAdmin(c)
	payment, err := h.engine.PaymentStatus(c.UserContext(), userID, paymentID, admin)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Success(c, toPaymentResponse(payment, admin))
}

// ListPayments handles GET /api/v1/payments
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	page, limit, offset := handlers.PageParams(c)
	payments, total, err := h.engine.ListPayments(c.UserContext(), userID, limit, offset)
	if err != nil {
		return response.FromError(c, err)
	}

	admin := middleware.IsAdmin(c)
	out := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i], admin))
	}

	return response.Paginated(c, out, response.CalculatePagination(page, limit, total))
}

// Refund handles POST /api/v1/admin/payments/:id/refund
func (h *PaymentHandler) Refund(c *fiber.Ctx) error {
	adminID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	paymentID, ok := handlers.IDParam(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid payment ID")
	}

	var req RefundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	req.Reason = validation.SanitizeString(req.Reason)

	record, err := h.refunds.Refund(c.UserContext(), paymentID, req.Reason, adminID)
	if err != nil {
		return response.FromError(c, err)
	}

	c.Locals(middleware.AuditNewValueKey, record)
	return response.SuccessWithMessage(c, "Payment refunded", record)
}
