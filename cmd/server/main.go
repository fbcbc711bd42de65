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
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/pippuri/whim-bot-sub000/internal/cache"
	"github.com/pippuri/whim-bot-sub000/internal/config"
	"github.com/pippuri/whim-bot-sub000/internal/database"
	"github.com/pippuri/whim-bot-sub000/internal/events"
	"github.com/pippuri/whim-bot-sub000/internal/handlers"
	"github.com/pippuri/whim-bot-sub000/internal/middleware"
	"github.com/pippuri/whim-bot-sub000/internal/providers"
	"github.com/pippuri/whim-bot-sub000/internal/services"
	"github.com/pippuri/whim-bot-sub000/pkg/jwt"
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

	logger.Info("Starting Whim Booking Core")
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

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Optional shared cache for the purchasable-agency whitelist
	var agencyCache providers.AgencyCache
	if redisCache := cache.NewRedisCache(cfg.Redis, cfg.Pricing.ProviderCacheTTL); redisCache != nil {
		logger.Info("Redis agency cache enabled")
		agencyCache = redisCache
		defer redisCache.Close()
	}

	// Optional state-transition event stream
	var publisher services.TransitionPublisher
	if producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger); producer != nil {
		logger.Infof("Kafka transition events enabled on topic %s", cfg.Kafka.Topic)
		publisher = producer
		defer producer.Close()
	}

	// Initialize repositories
	itineraryRepo := database.NewItineraryRepository(db, logger)
	legRepo := database.NewLegRepository(db, logger)
	bookingRepo := database.NewBookingRepository(db, logger)
	profileRepo := database.NewProfileRepository(db, logger)
	ledgerRepo := database.NewTransactionLogRepository(db, logger)
	transitionRepo := database.NewStateTransitionRepository(db, logger)
	factory := database.NewCoordinatorFactory(db, logger)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	registry := providers.NewRegistry(cfg.Providers.Roster, cfg.Pricing.ProviderCacheTTL, agencyCache, nil, logger)
	stateMachine := services.NewStateMachineService(transitionRepo, publisher, logger)
	resolver := services.NewPriceResolverService()
	optimizer := services.NewTicketOptimizerService(resolver, registry, cfg.Pricing.FallbackPolicy, logger)
	bookingService := services.NewBookingLifecycleService(stateMachine, registry, logger)
	legService := services.NewLegLifecycleService(stateMachine, bookingService, resolver, registry, cfg.Pricing.ReuseWindow, logger)
	itineraryService := services.NewItineraryLifecycleService(factory, stateMachine, optimizer, legService, registry, itineraryRepo, legRepo, logger)
	logger.Infof("Services initialized with %d providers", len(cfg.Providers.Roster))

	// Initialize handlers
	itineraryHandler := handlers.NewItineraryHandler(itineraryService, logger)
	bookingHandler := handlers.NewBookingHandler(factory, bookingService, bookingRepo, logger)
	profileHandler := handlers.NewProfileHandler(factory, profileRepo, ledgerRepo, stateMachine, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtService, logger))
	{
		itineraries := api.Group("/itineraries")
		{
			itineraries.POST("/quote", itineraryHandler.Quote)
			itineraries.POST("", itineraryHandler.Create)
			itineraries.GET("", itineraryHandler.List)
			itineraries.GET("/:id", itineraryHandler.Get)
			itineraries.POST("/:id/pay", itineraryHandler.Pay)
			itineraries.POST("/:id/activate", itineraryHandler.Activate)
			itineraries.POST("/:id/finish", itineraryHandler.Finish)
			itineraries.POST("/:id/cancel", itineraryHandler.Cancel)
			itineraries.POST("/:id/legs/:legId/reserve", itineraryHandler.ReserveLeg)
		}

		bookings := api.Group("/bookings")
		{
			bookings.POST("", bookingHandler.Create)
			bookings.GET("", bookingHandler.List)
			bookings.GET("/:id", bookingHandler.Get)
			bookings.POST("/:id/pay", bookingHandler.Pay)
			bookings.POST("/:id/reserve", bookingHandler.Reserve)
			bookings.POST("/:id/cancel", bookingHandler.Cancel)
			bookings.POST("/:id/refresh", bookingHandler.Refresh)
		}

		profile := api.Group("/profile")
		{
			profile.GET("", profileHandler.Get)
			profile.POST("/topup", profileHandler.TopUp)
			profile.GET("/transactions", profileHandler.Transactions)
		}

		api.GET("/states/:entityType", profileHandler.States)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      c.Request.URL.RawQuery,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
		}

		if c.Writer.Status() >= 500 {
			logger.WithFields(fields).Error("Request completed")
		} else if c.Writer.Status() >= 400 {
			logger.WithFields(fields).Warn("Request completed")
		} else {
			logger.WithFields(fields).Info("Request completed")
		}
	}
}

// healthCheckHandler reports process and database health
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
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
