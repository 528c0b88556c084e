package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tas-context-tailor/auth"
	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/handlers"
	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
	"github.com/tas-context-tailor/services/impl"
	"github.com/tas-context-tailor/services/pipeline"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database connection
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schema
	if err := db.AutoMigrate(
		&models.Project{},
		&models.Document{},
		&models.Chunk{},
		&models.TailorSession{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	store := impl.NewMetadataStore(db)
	cacheService := impl.NewCacheService(&cfg.Redis)

	// Vector index backend
	ctx := context.Background()
	var vectorIndex services.VectorIndex
	switch cfg.Vector.Backend {
	case "memory":
		vectorIndex = impl.NewMemoryVectorIndex()
		log.Println("Vector index: in-memory (not for production)")
	default:
		vectorIndex, err = impl.NewPgVectorIndex(ctx, &cfg.Vector)
		if err != nil {
			log.Fatal("Failed to initialize pgvector index:", err)
		}
		log.Println("Vector index: pgvector")
	}

	// Embedder backend
	var embedder services.Embedder
	if cfg.Embedder.Provider == "openai" && cfg.Embedder.APIKey != "" {
		embedder, err = impl.NewOpenAIEmbedder(&cfg.Embedder)
		if err != nil {
			log.Fatal("Failed to initialize embedder:", err)
		}
	} else {
		log.Println("Warning: no embedder credentials, using deterministic hash embedder")
		embedder = impl.NewHashEmbedder(cfg.Embedder.Dimension)
	}

	// LLM backend (optional; pipeline falls back to deterministic paths)
	var llm services.LLMClient
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey != "" {
			llm, err = impl.NewOpenAILLM(&cfg.LLM)
			if err != nil {
				log.Printf("Warning: LLM disabled: %v", err)
			}
		}
	case "anthropic":
		if cfg.LLM.APIKey != "" {
			llm, err = impl.NewAnthropicLLM(&cfg.LLM)
			if err != nil {
				log.Printf("Warning: LLM disabled: %v", err)
			}
		}
	}
	if llm == nil {
		log.Println("LLM disabled, running rule-based analysis and deterministic compression")
	}

	// Reranker
	var encoder services.CrossEncoder
	switch cfg.Reranker.Provider {
	case "dedicated":
		encoder, err = impl.NewDedicatedCrossEncoder(&cfg.Reranker)
		if err != nil {
			log.Printf("Warning: reranker disabled: %v", err)
		}
	case "llm":
		if llm != nil {
			encoder = impl.NewLLMCrossEncoder(llm)
		} else {
			log.Println("Warning: LLM reranker selected but no LLM configured")
		}
	}

	// Web search (optional)
	searcher := impl.NewWebSearcher(&cfg.WebSearch)
	if searcher == nil {
		log.Println("Web search disabled (no provider credentials)")
	}

	// Pipeline components
	tokens := pipeline.NewTokenCounter()
	chunker := pipeline.NewChunker(tokens)
	extractor := impl.NewTextExtractor()
	ingest := pipeline.NewIngestService(store, extractor, chunker, embedder, vectorIndex,
		cfg.Embedder.BatchSize, cfg.Pipeline.FanOutLimit)

	analyzer := pipeline.NewTaskAnalyzer(llm, cacheService,
		time.Duration(cfg.Redis.AnalysisTTL)*time.Second)
	scorer := pipeline.NewRelevanceScorer(embedder, vectorIndex, store, encoder, pipeline.ScorerOptions{
		SemanticWeight: cfg.Pipeline.SemanticWeight,
		KeywordWeight:  cfg.Pipeline.KeywordWeight,
		RerankWeight:   cfg.Pipeline.RerankWeight,
		WideTopK:       cfg.Pipeline.WideTopK,
		RerankTopN:     cfg.Reranker.TopN,
	})

	orchestrator := pipeline.NewOrchestrator(
		store,
		analyzer,
		scorer,
		pipeline.NewGapDetector(),
		searcher,
		pipeline.NewContextCompressor(tokens, llm),
		pipeline.NewContextWindowManager(),
		pipeline.NewSynthesizer(tokens),
		pipeline.NewPlatformFormatter(tokens),
		pipeline.NewQualityScorer(),
		tokens,
		cacheService,
		pipeline.OrchestratorOptions{
			FanOutLimit:    cfg.Pipeline.FanOutLimit,
			MaxWebQueries:  cfg.WebSearch.MaxQueriesPerRun,
			WebSearchDepth: cfg.WebSearch.SearchDepth,
			WebResultTTL:   time.Duration(cfg.Redis.WebSearchTTL) * time.Second,
			RequestTimeout: time.Duration(cfg.Pipeline.RequestTimeout) * time.Second,
		},
	)

	projectHandlers := handlers.NewProjectHandlers(store, ingest, orchestrator, vectorIndex, cfg.Pipeline.MaxUploadBytes)
	tailorHandlers := handlers.NewTailorHandlers(orchestrator, store)

	router := setupRouter(projectHandlers, tailorHandlers, cacheService, cfg)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Context tailor server starting on %s", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

func setupRouter(projectHandlers *handlers.ProjectHandlers, tailorHandlers *handlers.TailorHandlers, cacheService services.CacheService, cfg *config.Config) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Auth.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if err := cacheService.Health(c.Request.Context()); err != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"service":   "context-tailor",
		})
	})

	api := router.Group("/api")
	jwtValidator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.JWKSURL, cfg.Auth.AllowedIssuers)
	api.Use(authMiddleware(jwtValidator))

	projects := api.Group("/projects")
	{
		projects.POST("", projectHandlers.CreateProject)
		projects.GET("", projectHandlers.ListProjects)
		projects.GET("/:id", projectHandlers.GetProject)
		projects.PUT("/:id", projectHandlers.UpdateProject)
		projects.DELETE("/:id", projectHandlers.DeleteProject)

		projects.POST("/:id/documents", projectHandlers.UploadDocument)
		projects.GET("/:id/documents", projectHandlers.ListDocuments)
		projects.DELETE("/:id/documents/:docId", projectHandlers.DeleteDocument)
	}

	api.POST("/search/docs", projectHandlers.SearchDocs)

	tailor := api.Group("/tailor")
	{
		tailor.POST("", tailorHandlers.Tailor)
		tailor.POST("/preview", tailorHandlers.Preview)
		tailor.GET("/sessions", tailorHandlers.ListSessions)
		tailor.GET("/sessions/:id", tailorHandlers.GetSession)
	}

	return router
}

// authMiddleware resolves the Bearer token to a user id.
func authMiddleware(validator *auth.JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "Authorization header required"},
			})
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(authHeader)
		if err != nil {
			log.Printf("Token validation failed: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHORIZED", "message": "Invalid or expired token"},
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.Sub)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}
