package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/handlers"
	admin_handlers "github.com/sahilchouksey/coursemarket/handlers/admin"
	course_handlers "github.com/sahilchouksey/coursemarket/handlers/course"
	enrollment_handlers "github.com/sahilchouksey/coursemarket/handlers/enrollment"
	payment_handlers "github.com/sahilchouksey/coursemarket/handlers/payment"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/services/settlement"
	"github.com/sahilchouksey/coursemarket/utils"
	"github.com/sahilchouksey/coursemarket/utils/auth"
	"github.com/sahilchouksey/coursemarket/utils/middleware"
)

// WebhookPath is exempt from rate limiting
const WebhookPath = "/api/v1/payments/webhook"

// Dependencies are the services the routes are bound to
type Dependencies struct {
	Store      database.Storage
	JWTManager *auth.JWTManager
	Engine     *settlement.Engine
	// Guard may be nil when Redis is unavailable
	Guard *middleware.SignatureGuard
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	db := deps.Store.GetDB()

	authMiddleware := middleware.NewAuthMiddleware(deps.JWTManager, db)
	catalogStore := catalog.NewStore(db)

	courseHandler := course_handlers.NewCourseHandler(catalogStore)
	enrollmentHandler := enrollment_handlers.NewEnrollmentHandler(deps.Engine, catalogStore)
	paymentHandler := payment_handlers.NewPaymentHandler(deps.Engine, settlement.NewRefundCoordinator(deps.Engine), deps.Guard)

	// Health check and metrics
	app.Get("/ping", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, deps.Store))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Public catalog
	courses := api.Group("/courses")
	courses.Get("/", courseHandler.ListCourses)
	courses.Get("/:id", courseHandler.GetCourse)

	// Processor callbacks authenticate by signature, not JWT
	api.Post("/payments/webhook", deps.Guard.Check(), paymentHandler.Webhook)

	payments := api.Group("/payments", authMiddleware.Required())
	payments.Post("/intents", paymentHandler.CreateIntent)
	payments.Get("/", paymentHandler.ListPayments)
	payments.Get("/:id", paymentHandler.GetPayment)

	enrollments := api.Group("/enrollments", authMiddleware.Required())
	enrollments.Get("/my-courses", enrollmentHandler.MyCourses)
	enrollments.Post("/:course_id", enrollmentHandler.Enroll)
	enrollments.Delete("/:course_id", enrollmentHandler.Unenroll)
	enrollments.Get("/:course_id/status", enrollmentHandler.Status)
	enrollments.Post("/:course_id/lessons/:lesson_id/complete", enrollmentHandler.CompleteLesson)

	admin := api.Group("/admin", authMiddleware.RequireAdmin()...)
	admin.Post("/payments/:id/refund",
		middleware.AdminAuditLog(db, "payment_refund", "payments"),
		paymentHandler.Refund,
	)
	admin.Get("/audit-logs", utils.MakeHTTPHandleFunc(admin_handlers.ListAuditLogs, deps.Store))
	admin.Get("/audit-logs/:id", utils.MakeHTTPHandleFunc(admin_handlers.GetAuditLog, deps.Store))
	admin.Get("/analytics/overview", utils.MakeHTTPHandleFunc(admin_handlers.GetSettlementOverview, deps.Store))
	admin.Get("/discrepancies", utils.MakeHTTPHandleFunc(admin_handlers.ListDiscrepancies, deps.Store))
	admin.Post("/discrepancies/retry",
		middleware.AdminAuditLog(db, "discrepancy_retry", "enrollment_discrepancies"),
		admin_handlers.RetryDiscrepancies(deps.Engine),
	)
}
