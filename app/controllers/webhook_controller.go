package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aimanhazmi/GroupGate/internal/pkg/payment"
)

// processTimeout bounds one callback end to end, including the wait for the
// grant queue result.
const processTimeout = 60 * time.Second

var webhookDispatcher *payment.Dispatcher

// InitializeWebhookController wires the dispatcher before routes are
// installed.
func InitializeWebhookController(d *payment.Dispatcher) {
	webhookDispatcher = d
}

// HandleStripeWebhook receives Stripe events on /webhook/stripe.
func HandleStripeWebhook(c *fiber.Ctx) error {
	return handleCallback(c, payment.RawCallback{
		Provider: payment.ProviderStripe,
		Headers: map[string]string{
			"Stripe-Signature": c.Get("Stripe-Signature"),
		},
		Body: append([]byte(nil), c.BodyRaw()...),
	})
}

// HandleToyyibPayCallback receives ToyyibPay payment callbacks.
func HandleToyyibPayCallback(c *fiber.Ctx) error {
	return handleCallback(c, payment.RawCallback{
		Provider: payment.ProviderToyyibPay,
		Body:     append([]byte(nil), c.BodyRaw()...),
	})
}

// HandleToyyibPaySuccess receives the ToyyibPay return-URL post. It runs
// the identical pipeline as the callback route: every route that can
// trigger a grant verifies first.
func HandleToyyibPaySuccess(c *fiber.Ctx) error {
	return handleCallback(c, payment.RawCallback{
		Provider: payment.ProviderToyyibPay,
		Body:     append([]byte(nil), c.BodyRaw()...),
	})
}

func handleCallback(c *fiber.Ctx, cb payment.RawCallback) error {
	if webhookDispatcher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	result := webhookDispatcher.Process(ctx, cb)
	return c.Status(result.Status).JSON(fiber.Map{
		"state":  string(result.State),
		"detail": result.Detail,
	})
}
