package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"reverie/internal/config"
	"reverie/internal/database"
	"reverie/internal/handlers"
	"reverie/internal/jobs"
	"reverie/internal/logging"
	"reverie/internal/middleware"
	"reverie/internal/services"
)

func main() {
	logging.Init()
	logrus.Info("🚀 Starting Reverie server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err == nil {
		logrus.Info("✅ .env file loaded")
	}

	cfg := config.Load()
	logrus.Infof("📋 Configuration loaded (port %s, env %s)", cfg.Port, cfg.Environment)

	// Redis is the memory store; without it there is nothing to serve.
	redisService, err := services.NewRedisService(cfg.RedisURL)
	if err != nil {
		logrus.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()
	logrus.Info("✅ Redis connected")

	// MongoDB summary archive is optional.
	var mongoDB *database.MongoDB
	var archiveService *services.ArchiveService
	var archiver services.Archiver
	if cfg.ArchiveEnabled() {
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			logrus.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		defer mongoDB.Close(context.Background())
		if err := mongoDB.Initialize(context.Background()); err != nil {
			logrus.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
		}
		logrus.Info("✅ MongoDB connected, summary archive enabled")
	} else {
		logrus.Info("⚠️ MONGODB_URI not set, trimmed summaries will be dropped instead of archived")
	}

	metrics := services.InitMetrics()
	logrus.Info("📊 Prometheus metrics initialized")

	if mongoDB != nil {
		archiveService = services.NewArchiveService(mongoDB, metrics)
		archiver = archiveService
	}

	personaService, err := services.NewPersonaService(cfg.PersonaPath)
	if err != nil {
		logrus.Fatalf("❌ Failed to load persona from %s: %v", cfg.PersonaPath, err)
	}

	watchCtx, stopWatching := context.WithCancel(context.Background())
	defer stopWatching()
	if cfg.PersonaHotReload {
		if err := personaService.StartWatching(watchCtx); err != nil {
			logrus.Warnf("⚠️ Persona hot reload unavailable: %v", err)
		}
	}

	memoryService := services.NewMemoryService(redisService, cfg)
	toneService := services.NewToneService()
	summarizerService := services.NewSummarizerService(memoryService, cfg.SummaryThreshold, cfg.SummaryKeepRecent)
	contextBuilder := services.NewContextBuilder(memoryService, personaService, cfg.SummaryFetch)
	safetyService := services.NewSafetyService()
	generationService := services.NewGenerationService(cfg)

	engine := services.NewEngineService(
		cfg,
		memoryService,
		toneService,
		contextBuilder,
		summarizerService,
		safetyService,
		personaService,
		generationService,
		archiver,
		metrics,
	)
	logrus.Info("✅ Turn engine initialized")

	// Background jobs
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		logrus.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	sessionSweep := jobs.NewSessionSweep(memoryService, summarizerService, archiver, metrics, cfg)
	if err := scheduler.RegisterInterval(sessionSweep, cfg.SessionSweepInterval); err != nil {
		logrus.Fatalf("❌ Failed to register session sweep: %v", err)
	}
	retentionSweep := jobs.NewRetentionSweep(memoryService, archiver)
	if err := scheduler.RegisterCron(retentionSweep, cfg.RetentionCron); err != nil {
		logrus.Fatalf("❌ Failed to register retention sweep: %v", err)
	}
	scheduler.Start()

	// HTTP
	app := fiber.New(fiber.Config{
		AppName:      "Reverie v1.0",
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("reverie")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	chatHandler := handlers.NewChatHandler(engine)
	wsHandler := handlers.NewWebSocketHandler(engine, metrics)
	profileHandler := handlers.NewProfileHandler(memoryService, archiveService)
	healthHandler := handlers.NewHealthHandler(redisService, mongoDB)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api/v1",
		middleware.JWTAuth(cfg.AuthJWTSecret),
		middleware.APIRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
	)
	api.Post("/chat", chatHandler.Chat)
	api.Get("/users/:id/profile", profileHandler.GetProfile)
	api.Get("/users/:id/summaries", profileHandler.GetSummaries)
	api.Get("/users/:id/stats", profileHandler.GetStats)
	api.Get("/users/:id/export", profileHandler.Export)
	api.Delete("/users/:id/memory", profileHandler.Erase)

	// WebSocket chat. The upgrade middleware captures identity into
	// connection-scoped locals because the fiber context is gone once
	// the protocol switches.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws/chat", middleware.JWTAuth(cfg.AuthJWTSecret))
	app.Use("/ws/chat", func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if userID == "" {
			userID = c.Query("user_id")
		}
		c.Locals("ws_user_id", userID)
		c.Locals("ws_session_id", c.Query("session_id"))
		return c.Next()
	})
	app.Get("/ws/chat", websocket.New(wsHandler.Handle))

	logrus.Infof("✅ Server ready on port %s", cfg.Port)
	logrus.Infof("🔗 WebSocket endpoint: ws://localhost:%s/ws/chat", cfg.Port)
	logrus.Infof("📡 Health check: http://localhost:%s/health", cfg.Port)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logrus.Info("🛑 Shutting down server...")
		if err := scheduler.Stop(); err != nil {
			logrus.Warnf("⚠️ Error stopping job scheduler: %v", err)
		}
		stopWatching()
		if err := app.Shutdown(); err != nil {
			logrus.Warnf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		logrus.Fatalf("❌ Failed to start server: %v", err)
	}
}
