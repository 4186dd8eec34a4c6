package main

import (
	"context"
	"time"

	"github.com/ayeremenko/visa-tracker/config"
	"github.com/ayeremenko/visa-tracker/database"
	"github.com/ayeremenko/visa-tracker/handlers"
	"github.com/ayeremenko/visa-tracker/jobs"
	"github.com/ayeremenko/visa-tracker/services"
	"github.com/ayeremenko/visa-tracker/shared"
	"github.com/ayeremenko/visa-tracker/telegram"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load config
	cfg := config.LoadConfig()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if cfg.TelegramBotToken == "" {
		logrus.Fatal("TELEGRAM_BOT_TRACKING_API_KEY is required")
	}

	// Connect to database (optional, enables status check history)
	if cfg.DatabaseURL != "" {
		if err := database.Connect(cfg.DatabaseURL); err != nil {
			logrus.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.Migrate("database/schema.sql"); err != nil {
			logrus.Warnf("Migration warning: %v", err)
		}
	} else {
		logrus.Info("DATABASE_URL not set, status check history disabled")
	}

	// Durable registry of tracked applications
	registry, err := services.NewRegistry(cfg.RegistryFilePath, cfg.MaxTrackedPerUser)
	if err != nil {
		logrus.Fatalf("Failed to load registry: %v", err)
	}
	defer registry.Close()

	// Shared infrastructure
	metrics := shared.NewEngineMetrics()
	httpFactory := shared.NewHTTPClientFactory(30 * time.Second)
	statusCache := services.NewStatusCache(cfg.CacheTTL)
	cooldown := shared.NewUserCooldownLimiter(cfg.RateLimitWindow)
	politeness := shared.NewHTTPRequestRateLimiter(2 * time.Second)
	history := services.NewHistoryService(database.DB)

	// Upstream provider with its captcha pipeline
	var solver services.CaptchaSolver
	if cfg.CaptchaSolverURL != "" {
		solver = services.NewHTTPCaptchaSolver(cfg.CaptchaSolverURL, httpFactory.CreateOptimizedHTTPClient(60*time.Second))
	} else {
		logrus.Warn("CAPTCHA_SOLVER_URL not set, every status fetch will fail at the captcha step")
	}
	captchaClient := services.NewCaptchaClient(services.DefaultBLSBaseURL, solver, httpFactory.CreateOptimizedHTTPClient(30*time.Second))
	provider := services.NewBLSStatusProvider(services.DefaultBLSBaseURL, captchaClient, politeness)

	// Chat layer
	tgClient := telegram.NewClient(cfg.TelegramBotToken, httpFactory.CreateOptimizedHTTPClient(70*time.Second))
	notifier := services.NewNotifier(tgClient, metrics)

	// Fetch path and conversation state machine
	statusService := services.NewStatusService(provider, statusCache, cooldown, history, metrics, cfg.ProviderTimeout)
	conversation := services.NewConversation(registry, statusService, notifier, cfg.MaxTrackedPerUser)

	// Background jobs
	sweep := jobs.NewReconcileSweep(registry, statusService, notifier, conversation, metrics, cfg.SweepHour, cfg.TrackingExpiry)
	sweep.Start()
	defer sweep.Stop()

	cleanup := jobs.NewHistoryCleanup(history, 90*24*time.Hour, 12*time.Hour)
	cleanup.Start()

	// Telegram long-poll loop
	go pollUpdates(tgClient, conversation)

	// Handlers for the ops surface
	statusHandler := handlers.NewStatusHandler(registry, statusCache, history, metrics)
	adminHandler := handlers.NewAdminHandler(sweep)

	// Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New())

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// Routes
	api := app.Group("/api/v1")
	api.Get("/stats", statusHandler.GetStats)
	api.Get("/history/:reference", statusHandler.GetHistory)

	admin := api.Group("/admin")
	// TODO: Add auth middleware
	admin.Post("/sweep", adminHandler.TriggerSweep)

	// Start server
	logrus.Infof("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.Fatalf("Server failed to start: %v", err)
	}
}

// pollUpdates runs the Telegram long-poll loop, routing private-chat messages
// and callback presses into the conversation state machine. Each event is
// handled on its own goroutine; per-user ordering is enforced by the
// conversation's per-user locks.
func pollUpdates(client *telegram.Client, conversation *services.Conversation) {
	ctx := context.Background()
	var offset int64

	for {
		updates, nextOffset, err := client.GetUpdates(ctx, offset, 30*time.Second)
		if err != nil {
			logrus.WithField("component", "UpdatePoller").WithError(err).Warn("Failed to fetch updates, backing off")
			time.Sleep(3 * time.Second)
			continue
		}
		offset = nextOffset

		for _, update := range updates {
			switch {
			case update.Message != nil:
				msg := update.Message
				if msg.From == nil || msg.From.IsBot || msg.Chat.Type != "private" {
					continue
				}
				go conversation.HandleMessage(ctx, services.IncomingMessage{
					UserID:    msg.From.ID,
					ChatID:    msg.Chat.ID,
					MessageID: msg.MessageID,
					Text:      msg.Text,
				})

			case update.CallbackQuery != nil:
				cb := update.CallbackQuery
				if cb.Message == nil {
					client.AnswerCallbackQuery(ctx, cb.ID)
					continue
				}
				client.AnswerCallbackQuery(ctx, cb.ID)
				go conversation.HandleCallback(ctx, services.IncomingCallback{
					UserID:    cb.From.ID,
					ChatID:    cb.Message.Chat.ID,
					MessageID: cb.Message.MessageID,
					Data:      cb.Data,
				})
			}
		}
	}
}
