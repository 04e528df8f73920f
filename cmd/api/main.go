package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"listing-aggregator/internal/cleanup"
	"listing-aggregator/internal/config"
	"listing-aggregator/internal/database"
	"listing-aggregator/internal/handlers"
	"listing-aggregator/internal/history"
	"listing-aggregator/internal/ingest"
	"listing-aggregator/internal/matching"
	"listing-aggregator/internal/merge"
	"listing-aggregator/internal/ratelimit"
	"listing-aggregator/internal/reassign"
	"listing-aggregator/internal/scheduler"
	"listing-aggregator/internal/search"
	"listing-aggregator/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	browseDB     *database.DB
	gormDB       *database.GormDB
	searchClient *search.SearchClient
	appConfig    *config.Config
	rateLimiter  *ratelimit.RateLimiter
	appScheduler *scheduler.Scheduler
	queueWorker  *ingest.QueueWorker
)

func main() {
	// Load configuration
	configPath := getEnv("CONFIG_PATH", "/app/config/aggregator_config.yaml")
	var err error
	appConfig, err = config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config from %s: %v. Using defaults.", configPath, err)
		appConfig = config.DefaultConfig()
	} else {
		log.Printf("Loaded configuration from %s", configPath)
	}

	// Initialize database based on configuration. The resolution engine needs
	// MySQL/GORM; the postgres path serves browse-only deployments.
	dbType := appConfig.Database.Type
	if dbType == "" {
		dbType = getEnv("DB_TYPE", "mysql")
	}

	if dbType == "mysql" {
		log.Println("Using MySQL with GORM")
		mysqlCfg := appConfig.Database.MySQL

		portStr := ""
		if mysqlCfg.Port > 0 {
			portStr = fmt.Sprintf("%d", mysqlCfg.Port)
		}

		gormDB, err = database.NewGormDB(
			getEnvOrConfig(mysqlCfg.Host, "DB_HOST", "mysql"),
			getEnvOrConfig(portStr, "DB_PORT", "3306"),
			getEnvOrConfig(mysqlCfg.User, "DB_USER", "aggregator_user"),
			getEnvOrConfig(mysqlCfg.Password, "DB_PASSWORD", "aggregator_pass"),
			getEnvOrConfig(mysqlCfg.Database, "DB_NAME", "aggregator_db"),
		)
		if err != nil {
			log.Fatalf("Failed to connect to MySQL: %v", err)
		}
		defer gormDB.Close()

		if err := gormDB.InitSchema(); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
	} else {
		log.Println("Using PostgreSQL (browse-only mode)")
		pgCfg := appConfig.Database.Postgres

		portStr := ""
		if pgCfg.Port > 0 {
			portStr = fmt.Sprintf("%d", pgCfg.Port)
		}

		browseDB, err = database.NewDB(
			getEnvOrConfig(pgCfg.Host, "DB_HOST", "db"),
			getEnvOrConfig(portStr, "DB_PORT", "5432"),
			getEnvOrConfig(pgCfg.User, "DB_USER", "aggregator_user"),
			getEnvOrConfig(pgCfg.Password, "DB_PASSWORD", "aggregator_pass"),
			getEnvOrConfig(pgCfg.Database, "DB_NAME", "aggregator_db"),
		)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer browseDB.Close()

		if err := browseDB.InitSchema(); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
	}

	// Initialize rate limiter
	rateLimiter = ratelimit.NewRateLimiter(
		appConfig.RateLimit.RequestsPerMinute,
		appConfig.RateLimit.RequestsPerHour,
		appConfig.RateLimit.Enabled,
	)
	log.Printf("Rate limiter initialized: %d req/min, %d req/hour (enabled: %v)",
		appConfig.RateLimit.RequestsPerMinute,
		appConfig.RateLimit.RequestsPerHour,
		appConfig.RateLimit.Enabled,
	)

	// Setup Gin router
	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5176"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	r.GET("/health", healthCheck)
	r.GET("/api/ratelimit/stats", getRateLimitStats)

	if gormDB != nil {
		registerEngineRoutes(r)
	} else {
		browseHandler := handlers.NewBrowseHandler(browseDB)
		r.GET("/api/browse/listings", browseHandler.ListListings)
		r.GET("/api/browse/listings/:id", browseHandler.GetListing)
		r.POST("/api/browse/listings", rateLimitMiddleware(), browseHandler.SaveListing)
		log.Println("Browse-only routes registered")
	}

	port := getEnv("PORT", "8084")
	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// registerEngineRoutes wires the full resolution engine on the GORM database.
func registerEngineRoutes(r *gin.Engine) {
	db := gormDB.DB()

	// Meilisearch is optional; the engine runs with a stale or absent index.
	meilisearchHost := appConfig.Search.Meilisearch.Host
	if meilisearchHost == "" {
		meilisearchHost = getEnv("MEILISEARCH_HOST", "")
	}
	if meilisearchHost != "" {
		meilisearchKey := getEnvOrConfig(appConfig.Search.Meilisearch.APIKey, "MEILISEARCH_KEY", "masterKey123")
		searchClient = search.NewSearchClient(meilisearchHost, meilisearchKey, db)

		// Wait for Meilisearch to be ready
		time.Sleep(2 * time.Second)
		if err := searchClient.InitIndex(); err != nil {
			log.Printf("Warning: Failed to initialize search index: %v", err)
		}
	} else {
		log.Println("Meilisearch not configured, search projection disabled")
	}

	graphStore := store.New(db)
	scorer := matching.NewScorer(
		appConfig.Matching.Weights,
		appConfig.Matching.ConfidenceThreshold,
		appConfig.Matching.MinScore,
	)
	historyService := history.NewService(db)
	mergeManager := merge.NewManager(db, graphStore)
	orchestrator := reassign.New(graphStore, scorer)
	cleanupService := cleanup.NewService(db, graphStore)

	var indexer ingest.Indexer
	if searchClient != nil {
		indexer = searchClient
	}
	resolver := ingest.NewResolver(db, graphStore, scorer, historyService, indexer)

	queueWorker = ingest.NewQueueWorker(db, resolver, appConfig.Ingest.GetPollInterval())
	queueWorker.Start()
	log.Println("Queue worker started")

	appScheduler = scheduler.NewScheduler(resolver, cleanupService, searchClient, appConfig)
	if err := appScheduler.Start(); err != nil {
		log.Printf("Warning: Failed to start scheduler: %v", err)
	}

	entityHandler := handlers.NewEntityHandler(db, graphStore, historyService)
	resolutionHandler := handlers.NewResolutionHandler(orchestrator, mergeManager)
	intakeHandler := handlers.NewIntakeHandler(queueWorker, resolver)
	adminHandler := handlers.NewAdminHandler(db, appScheduler, cleanupService, queueWorker, searchClient)

	// Canonical graph
	r.GET("/api/buildings", entityHandler.ListBuildings)
	r.GET("/api/buildings/:id", entityHandler.GetBuilding)
	r.PATCH("/api/buildings/:id", entityHandler.PatchBuilding)
	r.DELETE("/api/buildings/:id", entityHandler.DeleteBuilding)
	r.GET("/api/properties", entityHandler.ListProperties)
	r.GET("/api/properties/:id", entityHandler.GetProperty)
	r.DELETE("/api/properties/:id", entityHandler.DeleteProperty)
	r.GET("/api/listings", entityHandler.ListListings)
	r.GET("/api/listings/:id", entityHandler.GetListing)
	r.GET("/api/listings/:id/history", entityHandler.GetListingHistory)

	// Intake with rate limiting
	r.POST("/api/intake/observations", rateLimitMiddleware(), intakeHandler.EnqueueObservation)
	r.POST("/api/intake/observations/batch", rateLimitMiddleware(), intakeHandler.EnqueueBatch)
	r.POST("/api/intake/observations/sync", rateLimitMiddleware(), intakeHandler.ResolveNow)

	// Manual resolution flows
	r.POST("/api/resolution/:kind/:id/detach", resolutionHandler.RequestDetach)
	r.POST("/api/resolution/:kind/:id/confirm", resolutionHandler.Confirm)
	r.POST("/api/resolution/:kind/:id/apply", resolutionHandler.Apply)
	r.POST("/api/resolution/:kind/:id/cancel", resolutionHandler.Cancel)

	// Building merges
	r.POST("/api/buildings/merge", resolutionHandler.MergeBuildings)
	r.GET("/api/merges", resolutionHandler.ListMerges)
	r.GET("/api/merges/:id", resolutionHandler.GetMerge)
	r.POST("/api/merges/:id/revert", resolutionHandler.RevertMerge)

	// Admin
	admin := r.Group("/api/admin")
	{
		admin.GET("/stats", adminHandler.GetStats)
		admin.GET("/queue/stats", adminHandler.GetQueueStats)
		admin.POST("/cleanup/run", adminHandler.RunCleanup)
		admin.GET("/cleanup/logs", adminHandler.GetDeleteLogs)
		admin.POST("/maintenance/trigger", adminHandler.TriggerMaintenance)
		admin.GET("/search", adminHandler.SearchProperties)
		admin.POST("/search/reindex", adminHandler.ReindexSearch)
	}

	log.Println("Resolution engine routes registered")
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrConfig returns config value if set, otherwise falls back to environment variable, then default
func getEnvOrConfig(configValue, envKey, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	return getEnv(envKey, defaultValue)
}

// rateLimitMiddleware returns a Gin middleware that enforces rate limiting
func rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rateLimiter.AllowRequest(c.ClientIP()) {
			stats := rateLimiter.GetStats(c.ClientIP())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please try again later.",
				"stats":   stats,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// getRateLimitStats returns current rate limiter statistics
func getRateLimitStats(c *gin.Context) {
	stats := rateLimiter.GetStats(c.ClientIP())
	c.JSON(http.StatusOK, stats)
}
