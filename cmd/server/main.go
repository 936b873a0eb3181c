package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/songlab/api/internal/checkpoint"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/config"
	"github.com/songlab/api/internal/handler"
	"github.com/songlab/api/internal/limiter"
	"github.com/songlab/api/internal/middleware"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/internal/store"
	ws "github.com/songlab/api/internal/websocket"
	"github.com/songlab/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Postgres pool
	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Failed to create Postgres pool: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Printf("Warning: Postgres not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize the shared orchestration primitives
	repo := store.New(pool)
	checkpoints := checkpoint.NewRedisStore(redisClient)
	semaphore := worker.NewLimiterSemaphore(limiter.New(redisClient))
	backendClient := client.NewBackendClient(&cfg.Backend)
	if !backendClient.IsConfigured() {
		log.Println("Warning: generation backend credentials not configured")
	}

	// Initialize services and handlers
	songService := service.NewSongService(repo, asynqClient)
	songHandler := handler.NewSongHandler(songService, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New())
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"backend":  backendClient.IsConfigured(),
				"redis":    redisClient.Ping(c.Context()).Err() == nil,
				"postgres": pool.Ping(c.Context()) == nil,
			},
		})
	})

	// API routes
	api := app.Group("/api", middleware.GatewayAuthMiddleware())

	songs := api.Group("/songs")
	songs.Post("/generate", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), songHandler.Generate)
	songs.Post("/:id/extend", rateLimiter.ExtendLimit(cfg.RateLimit.ExtendPerHour), songHandler.Extend)
	songs.Post("/:id/split-stems", rateLimiter.StemSplitLimit(cfg.RateLimit.StemsPerHour), songHandler.SplitStems)
	songs.Get("/:id", songHandler.Get)
	songs.Post("/:id/listen", songHandler.Listen)

	api.Get("/credits", songHandler.Credits)
	api.Get("/credits/preview", songHandler.PreviewCost)
	api.Get("/plans", songHandler.Plans)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/songs/:id", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("id"))
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, repo, backendClient, checkpoints, semaphore, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	repo *store.Store,
	backendClient *client.BackendClient,
	checkpoints *checkpoint.RedisStore,
	semaphore worker.Semaphore,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueGenerate: 5,
				service.QueueExtend:   3,
				service.QueueStems:    2,
			},
			LogLevel: asynqLogLevel,
		},
	)

	generateWorker := worker.NewGenerateWorker(repo, backendClient, checkpoints, semaphore, hub)
	extendWorker := worker.NewExtendWorker(repo, backendClient, checkpoints, semaphore, hub)
	stemWorker := worker.NewStemWorker(repo, backendClient, checkpoints, semaphore, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(model.JobTypeGenerate, generateWorker.ProcessTask)
	mux.HandleFunc(model.JobTypeExtend, extendWorker.ProcessTask)
	mux.HandleFunc(model.JobTypeSplitStems, stemWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
