package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/aimanhazmi/GroupGate/app/controllers"
	"github.com/aimanhazmi/GroupGate/internal/pkg/bot"
	"github.com/aimanhazmi/GroupGate/internal/pkg/cache"
	"github.com/aimanhazmi/GroupGate/internal/pkg/database"
	"github.com/aimanhazmi/GroupGate/internal/pkg/env"
	"github.com/aimanhazmi/GroupGate/internal/pkg/grantqueue"
	"github.com/aimanhazmi/GroupGate/internal/pkg/payment"
	"github.com/aimanhazmi/GroupGate/internal/pkg/router"
	"github.com/aimanhazmi/GroupGate/internal/pkg/telegram"
)

func main() {
	app, shutdown := NewApplication()

	// graceful shutdown: settle the queue before the process dies so no
	// webhook caller is left hanging on a grant result
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		shutdown()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	groupID := mustParseInt64(env.GetEnv("GROUP_ID", ""), "GROUP_ID")

	client, err := telegram.NewClient(env.GetEnv("BOT_TOKEN", ""))
	if err != nil {
		log.Fatalf("Failed to initialize Telegram client: %v", err)
	}

	granter := grantqueue.NewGranter(client, groupID)
	queue := grantqueue.NewQueue(granter, grantqueue.DefaultQueueSize)
	queue.Start()

	db := database.GetDB()
	ledger := payment.NewGormLedger(db)
	verifier := payment.NewVerifier(payment.VerifierConfig{
		StripeWebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		ToyyibPayAPIKey:     env.GetEnv("TOYYIBPAY_API_KEY", ""),
	})
	dispatcher := payment.NewDispatcher(verifier, ledger, queue, payment.NewEventStore(db))

	checkout := payment.NewCheckout(payment.CheckoutConfig{
		ToyyibPayAPIKey:       env.GetEnv("TOYYIBPAY_API_KEY", ""),
		ToyyibPayCategoryCode: env.GetEnv("TOYYIBPAY_CATEGORY_CODE", ""),
		ToyyibPayBaseURL:      env.GetEnv("TOYYIBPAY_BASE_URL", "https://toyyibpay.com"),
		StripeAPIKey:          env.GetEnv("STRIPE_API_KEY", ""),
		SuccessURL:            env.GetEnv("SUCCESS_URL", ""),
		CallbackURL:           env.GetEnv("CALLBACK_URL", ""),
		AmountCents:           mustParseInt64(env.GetEnv("SUBSCRIPTION_AMOUNT", "200"), "SUBSCRIPTION_AMOUNT"),
	}, db)

	groupBot := bot.New(client, queue, checkout, ledger, groupID)
	groupBot.Start()

	controllers.InitializeWebhookController(dispatcher)
	controllers.InitializeAPIController(ledger, queue)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "GroupGate",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	shutdown := func() {
		groupBot.Stop()
		queue.Stop()
	}
	return app, shutdown
}

func mustParseInt64(value, name string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Fatalf("Invalid %s: %q", name, value)
	}
	return n
}
