package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noteduco342/OMChat-backend/internal/bus"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/config"
	"github.com/noteduco342/OMChat-backend/internal/handlers"
	"github.com/noteduco342/OMChat-backend/internal/handlers/ws"
	"github.com/noteduco342/OMChat-backend/internal/httpx"
	"github.com/noteduco342/OMChat-backend/internal/middleware"
	"github.com/noteduco342/OMChat-backend/internal/repository"
	"github.com/noteduco342/OMChat-backend/internal/service"
	"github.com/noteduco342/OMChat-backend/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	db, err := repository.InitDB(cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Redis is optional on a single node: counters, presence and the
	// conversation cache fall back to memory.
	redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running without cache.", err)
		_ = redisCache.Close()
		redisCache = nil
	} else {
		log.Println("Redis cache connected successfully")
	}

	nodeID := cfg.Bus.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
		cfg.Bus.NodeID = nodeID
	}

	counter := cache.NewUnreadCounterFor(redisCache)
	convCache := cache.NewConversationCache(redisCache)
	presence := cache.NewPresenceCache(redisCache, nodeID)

	busOpts := bus.Options{Config: cfg.Bus}
	if redisCache != nil {
		busOpts.Redis = redisCache.Client()
	}
	eventBus, err := bus.New(busOpts)
	if err != nil {
		log.Fatal("Failed to initialize event bus:", err)
	}

	// Initialize S3/MinIO storage (best-effort; uploads return 503 if missing)
	var blobStore storage.BlobStore
	var blobReader storage.BlobReader
	if st, err := storage.NewS3Storage(cfg.S3); err != nil {
		log.Printf("WARNING: S3 storage not configured: %v", err)
	} else {
		blobStore, blobReader = st, st
		log.Printf("S3 storage initialized successfully (bucket=%s)", cfg.S3.Bucket)
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	groupRepo := repository.NewGroupRepository(db)

	hub := ws.NewHub(presence, ws.HubOptions{
		SendBuffer:   cfg.Delivery.SendBuffer,
		PingInterval: cfg.Delivery.PingInterval,
		PongTimeout:  cfg.Delivery.PongTimeout,
	})
	router := service.NewDeliveryRouter(hub, eventBus, counter, presence)
	hub.SetPresenceHandler(func() { router.BroadcastPresence(ctx) })
	if err := router.Start(ctx); err != nil {
		log.Fatal("Failed to subscribe to event bus:", err)
	}

	// Initialize services
	mode, err := service.ParseUnreadMode(cfg.Unread.Mode)
	if err != nil {
		log.Fatal(err)
	}
	resolver := service.NewConversationResolver(userRepo, groupRepo)
	attachments := service.NewAttachmentService(blobStore)
	reconciler := service.NewReadReconciler(messageRepo, resolver, router, counter, convCache, service.ReconcilerOptions{
		Mode:      mode,
		OpenBatch: cfg.Unread.OpenBatch,
	})
	messageService := service.NewMessageService(messageRepo, userRepo, resolver, router, counter, convCache, attachments, cfg.MaxMessageLength)
	groupService := service.NewGroupService(groupRepo, userRepo, messageRepo, router, counter, convCache, attachments)

	go hub.Run(ctx)
	go counter.RunResync(ctx, cfg.Unread.ResyncInterval, messageRepo)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(hub, reconciler, groupService, cfg.Delivery.PongTimeout)
	messageHandler := handlers.NewMessageHandler(messageService, reconciler)
	groupHandler := handlers.NewGroupHandler(groupService, messageService)
	mediaHandler := handlers.NewMediaHandler(blobReader)

	app := fiber.New(fiber.Config{
		AppName: "OM Chat Backend",
		// Attachments up to 25MB + overhead.
		BodyLimit: 30 * 1024 * 1024,
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-OM-CSRF",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: cfg.AllowedOrigins != "" && cfg.AllowedOrigins != "*",
	}))

	sendLimiter := limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid, err := httpx.LocalUint(c, "userID"); err == nil {
				return "send:" + strconv.FormatUint(uint64(uid), 10)
			}
			return c.IP()
		},
	})

	// Protected routes
	api := app.Group("/api",
		middleware.OriginAllowed(cfg.AllowedOrigins),
		middleware.AuthRequired(cfg.JWTSecret),
		middleware.CSRFRequired(cfg.CSRFMode, cfg.AllowedOrigins),
	)
	api.Get("/messages/users", messageHandler.GetSidebarUsers)
	api.Post("/messages/mark-read", messageHandler.MarkRead)
	api.Get("/messages/unread/:userId", messageHandler.GetUnreadCount)
	api.Post("/messages/send/:id", sendLimiter, messageHandler.SendMessage)
	api.Get("/messages/:id", messageHandler.GetMessages)

	// Group routes
	api.Post("/groups/create", groupHandler.CreateGroup)
	api.Get("/groups", groupHandler.GetMyGroups)
	api.Get("/groups/:groupId/unread", groupHandler.GetGroupUnreadCount)
	api.Get("/groups/:id/messages", groupHandler.GetGroupMessages)
	api.Post("/groups/:id/send", sendLimiter, groupHandler.SendGroupMessage)
	api.Put("/groups/:id/add-members", groupHandler.AddMembers)
	api.Put("/groups/:id/remove-member", groupHandler.RemoveMember)
	api.Put("/groups/:id", groupHandler.UpdateGroup)
	api.Delete("/groups/:id", groupHandler.DeleteGroup)

	api.Get("/media/*", mediaHandler.GetMedia)

	// WebSocket route (websocket upgrade needs special handling)
	app.Use(
		"/ws",
		middleware.OriginAllowed(cfg.AllowedOrigins),
		middleware.AuthRequired(cfg.JWTSecret),
		wsHandler.Upgrade,
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "OM Chat is running",
			"node":    nodeID,
			"online":  hub.Count(),
		})
	})

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close(shutdownCtx)
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("Server starting on port %s (node=%s, bus=%s, unread=%s)...", cfg.Port, nodeID, cfg.Bus.Driver, mode)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}

	if err := eventBus.Close(); err != nil {
		log.Printf("bus close: %v", err)
	}
	if redisCache != nil {
		_ = redisCache.Close()
	}
}
