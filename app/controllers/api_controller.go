package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/aimanhazmi/GroupGate/internal/pkg/grantqueue"
	"github.com/aimanhazmi/GroupGate/internal/pkg/payment"
)

var (
	apiLedger payment.Ledger
	apiQueue  *grantqueue.Queue
)

// InitializeAPIController wires the admin API dependencies.
func InitializeAPIController(ledger payment.Ledger, queue *grantqueue.Queue) {
	apiLedger = ledger
	apiQueue = queue
}

// HandleGetGrant returns the ledger record for one payment reference.
func HandleGetGrant(c *fiber.Ctx) error {
	if apiLedger == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable"})
	}

	provider := payment.Provider(c.Params("provider"))
	if !provider.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_provider"})
	}
	reference := c.Params("reference")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := apiLedger.Lookup(ctx, provider, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, payment.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(record)
}

// HandleQueueStats returns the grant queue counters.
func HandleQueueStats(c *fiber.Ctx) error {
	if apiQueue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable"})
	}

	stats, err := apiQueue.Stats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"stats": stats})
}
