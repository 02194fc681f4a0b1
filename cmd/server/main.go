package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/config"
	"github.com/primeestate/room-selection-backend/internal/database"
	"github.com/primeestate/room-selection-backend/internal/handlers"
	"github.com/primeestate/room-selection-backend/internal/middleware"
	"github.com/primeestate/room-selection-backend/internal/models"
	"github.com/primeestate/room-selection-backend/internal/services"
	"github.com/primeestate/room-selection-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Room Selection Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize store
	var store database.Store
	if cfg.Database.URL != "" {
		logger.Info("Connecting to database...")
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		store = database.NewPostgresStore(db)
		logger.Info("Database connection established")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (development only)")
		memStore := database.NewMemoryStore()
		if err := seedDevData(memStore); err != nil {
			logger.Fatalf("Failed to seed development data: %v", err)
		}
		store = memStore
	}
	defer store.Close()

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	hub := services.NewBroadcastService(cfg.Broadcast.SubscriberBuffer, logger)

	// The broadcaster doubles as the cross-instance bridge when Redis is
	// configured; single-instance deployments publish to the hub directly.
	var publisher services.Publisher = hub
	var bridge *services.RedisBridge
	if cfg.Redis.Addr != "" {
		bridge, err = services.NewRedisBridge(cfg.Redis, hub, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		publisher = bridge
		logger.Info("Redis event bridge connected")
	}

	engine := services.NewAllocationService(store, publisher, logger, cfg.Engine.ClaimRetries)
	generator := services.NewGeneratorService()
	authService := services.NewAuthService(store, jwtService, cfg.Auth, logger)
	logger.Info("Services initialized")

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, logger)
	roomHandler := handlers.NewRoomHandler(engine, logger)
	eventsHandler := handlers.NewEventsHandler(hub, cfg.Broadcast.HeartbeatInterval, logger)
	adminHandler := handlers.NewAdminHandler(engine, generator, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(store))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Authentication routes (public)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
		}

		// Room routes (protected)
		rooms := v1.Group("/rooms")
		rooms.Use(middleware.AuthMiddleware(jwtService))
		{
			rooms.GET("", roomHandler.ListRooms)
			rooms.GET("/random", roomHandler.RandomAvailable)
			rooms.GET("/:roomId", roomHandler.GetRoom)
			rooms.POST("/:roomId/claim", roomHandler.ClaimRoom)
			rooms.POST("/:roomId/release", roomHandler.ReleaseRoom)
			rooms.PUT("/:roomId/lock", middleware.RequireAdmin(), roomHandler.SetLock)
		}

		// Snapshot and live events (protected)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService))
		{
			protected.GET("/snapshot", roomHandler.GetSnapshot)
			protected.GET("/events", eventsHandler.Stream)
		}

		// Admin routes (protected + admin only)
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService), middleware.RequireAdmin())
		{
			admin.POST("/inventory/generate", adminHandler.GenerateInventory)
			admin.POST("/inventory/generate-preset", adminHandler.GeneratePresetInventory)
			admin.PUT("/inventory", adminHandler.ReplaceInventory)
			admin.GET("/inventory/export", adminHandler.ExportInventory)
			admin.POST("/inventory/import", adminHandler.ImportInventory)

			admin.GET("/users", adminHandler.ListUsers)
			admin.POST("/users", adminHandler.AddUser)
			admin.PUT("/users", adminHandler.ReplaceUsers)
			admin.GET("/users/export", adminHandler.ExportUsers)
			admin.POST("/users/import", adminHandler.ImportUsers)
		}
	}

	// Start the Redis consumer after routing is up
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	if bridge != nil {
		bridge.Start(bridgeCtx)
	}

	// Create HTTP server. WriteTimeout stays at zero because the SSE
	// event stream holds its response open indefinitely.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	stopBridge()
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			logger.Errorf("Failed to close redis bridge: %v", err)
		}
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// seedDevData installs a small fixed dataset so the server is usable
// out of the box in development mode.
func seedDevData(store database.Store) error {
	users := []models.User{
		{ID: "admin-1", Name: "系统管理员", Phone: "13800000000", MaxSelections: 0, IsAdmin: true},
		{ID: "u-1001", Name: "张三", Phone: "13912345678", MaxSelections: 1},
	}
	if err := store.ReplaceUsers(users); err != nil {
		return err
	}
	return store.ReplaceRooms(services.NewGeneratorService().GeneratePreset())
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
		}

		if userCtx, exists := middleware.GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
		}

		entry := logger.WithFields(fields)

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(store database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
