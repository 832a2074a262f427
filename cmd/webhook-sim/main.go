// Command webhook-sim posts signed payment events to a running server so the
// settlement flow can be exercised without the processor's CLI.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/sahilchouksey/coursemarket/config"
	"github.com/sahilchouksey/coursemarket/handlers/payment"
	"github.com/sahilchouksey/coursemarket/router"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/utils/logging"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	eventType := flag.String("type", string(gateway.EventPaymentSucceeded), "event type: payment_intent.succeeded, payment_intent.payment_failed, payment_intent.canceled, charge.refunded")
	intentID := flag.String("intent", "", "payment intent id (required)")
	amount := flag.String("amount", "0", "amount in major units, used by refund events")
	reason := flag.String("reason", "", "failure reason for payment_failed events")
	secret := flag.String("secret", "", "webhook secret, defaults to the configured sandbox secret")
	repeat := flag.Int("repeat", 1, "deliver the same event this many times")
	flag.Parse()

	log := logging.With("webhook-sim")

	if err := config.LoadENV(); err != nil {
		log.Warn().Err(err).Msg(".env file could not be read")
	}

	if *secret == "" {
		cfg, err := config.GetPayment()
		if err != nil {
			log.Error().Err(err).Msg("Failed to read payment configuration")
			os.Exit(1)
		}
		*secret = cfg.WebhookSecret
	}
	if *secret == "" {
		log.Error().Msg("No webhook secret: pass -secret or set STRIPE_TEST_WEBHOOK_SECRET")
		os.Exit(2)
	}

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Error().Err(err).Str("amount", *amount).Msg("Invalid amount")
		os.Exit(2)
	}

	body, header, err := gateway.SignEvent(*secret, gateway.SimulatedEvent{
		Type:          gateway.EventType(*eventType),
		IntentID:      *intentID,
		Amount:        amt,
		FailureReason: *reason,
	}, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build event")
		os.Exit(2)
	}

	target := *baseURL + router.WebhookPath
	for i := 0; i < *repeat; i++ {
		agent := fiber.Post(target).
			ContentType(fiber.MIMEApplicationJSON).
			Set(payment.SignatureHeader, header).
			Body(body)
		if err := agent.Parse(); err != nil {
			log.Error().Err(err).Str("url", target).Msg("Invalid target URL")
			os.Exit(2)
		}

		code, resp, errs := agent.Bytes()
		if len(errs) > 0 {
			log.Error().Err(errs[0]).Str("url", target).Msg("Delivery failed")
			os.Exit(1)
		}
		fmt.Printf("delivery %d: HTTP %d %s\n", i+1, code, resp)
	}
}
