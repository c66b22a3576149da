package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/driftnote/driftnote-backend/internal/answer"
	"github.com/driftnote/driftnote-backend/internal/chunker"
	"github.com/driftnote/driftnote-backend/internal/db"
	"github.com/driftnote/driftnote-backend/internal/embed"
	httphandlers "github.com/driftnote/driftnote-backend/internal/http/handlers"
	"github.com/driftnote/driftnote-backend/internal/index"
	"github.com/driftnote/driftnote-backend/internal/jobs"
	jobhandlers "github.com/driftnote/driftnote-backend/internal/jobs/handlers"
	"github.com/driftnote/driftnote-backend/internal/normalize"
	"github.com/driftnote/driftnote-backend/internal/observability"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/platform/openai"
	"github.com/driftnote/driftnote-backend/internal/platform/qdrant"
	"github.com/driftnote/driftnote-backend/internal/platform/ratelimit"
	"github.com/driftnote/driftnote-backend/internal/platform/vecstore"
	"github.com/driftnote/driftnote-backend/internal/realtime"
	"github.com/driftnote/driftnote-backend/internal/realtime/bus"
	"github.com/driftnote/driftnote-backend/internal/repos"
	"github.com/driftnote/driftnote-backend/internal/retrieve"
	"github.com/driftnote/driftnote-backend/internal/server"
	"github.com/driftnote/driftnote-backend/internal/services"
	"github.com/driftnote/driftnote-backend/internal/types"
	"github.com/driftnote/driftnote-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "driftnote",
		Environment: utils.GetEnv("DEPLOY_ENV", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if shutdownOTel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOTel(shutdownCtx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	sourceRepo := repos.NewContentSourceRepo(thePG, log)
	rawItemRepo := repos.NewRawItemRepo(thePG, log)
	chunkRepo := repos.NewContentChunkRepo(thePG, log)
	conversationRepo := repos.NewConversationRepo(thePG, log)
	jobRepo := repos.NewJobRunRepo(thePG, log)

	// Clients
	log.Info("Setting up clients from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	limiter, err := ratelimit.NewFromEnv()
	if err != nil {
		log.Error("Could not init embed rate limiter", "error", err)
		os.Exit(1)
	}

	// Vector store
	var vectors vecstore.VectorStore
	switch strings.ToLower(utils.GetEnv("VECTOR_PROVIDER", "memory", log)) {
	case "qdrant":
		qcfg, err := qdrant.ResolveConfigFromEnv()
		if err != nil {
			log.Error("Invalid qdrant config", "error", err)
			os.Exit(1)
		}
		vectors, err = qdrant.NewVectorStore(log, qcfg)
		if err != nil {
			log.Error("Could not init qdrant vector store", "error", err)
			os.Exit(1)
		}
	default:
		dim := utils.GetEnvAsInt("VECTOR_DIM", 1536, log)
		vectors, err = vecstore.NewMemoryStore(dim)
		if err != nil {
			log.Error("Could not init memory vector store", "error", err)
			os.Exit(1)
		}
	}

	// Event bus
	var events bus.Bus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		events, err = bus.NewRedisBus(log)
		if err != nil {
			log.Error("Could not init redis event bus", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("REDIS_ADDR not set, using in-process event bus")
		events = bus.NewMemoryBus()
	}
	defer events.Close()

	// Pipeline
	log.Info("Setting up pipeline from main...")
	normalizer, err := normalize.NewNormalizer(log)
	if err != nil {
		log.Error("Could not init normalizer", "error", err)
		os.Exit(1)
	}
	chk, err := chunker.NewChunker(log)
	if err != nil {
		log.Error("Could not init chunker", "error", err)
		os.Exit(1)
	}
	embedder, err := embed.NewEmbedder(log, openaiClient, limiter, utils.GetEnvAsInt("EMBED_BATCH_SIZE", 32, log))
	if err != nil {
		log.Error("Could not init embedder", "error", err)
		os.Exit(1)
	}
	store, err := index.NewStore(log, vectors, chunkRepo)
	if err != nil {
		log.Error("Could not init index store", "error", err)
		os.Exit(1)
	}

	// Retrieval
	var scorer retrieve.Scorer
	if strings.EqualFold(utils.GetEnv("RERANK_MODE", "lexical", log), "llm") {
		scorer, err = retrieve.NewLLMScorer(log, openaiClient)
		if err != nil {
			log.Error("Could not init llm scorer", "error", err)
			os.Exit(1)
		}
	} else {
		scorer = retrieve.NewLexicalScorer()
	}
	retriever, err := retrieve.NewRetriever(log, embedder, store, scorer, retrieve.DefaultRecallK)
	if err != nil {
		log.Error("Could not init retriever", "error", err)
		os.Exit(1)
	}
	composer, err := answer.NewComposer(log, openaiClient, retriever, conversationRepo, 0)
	if err != nil {
		log.Error("Could not init answer composer", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	ingestionService, err := services.NewIngestionService(log, rawItemRepo, chunkRepo, sourceRepo, jobRepo)
	if err != nil {
		log.Error("Could not init IngestionService", "error", err)
		os.Exit(1)
	}
	searchService, err := services.NewSearchService(log, retriever)
	if err != nil {
		log.Error("Could not init SearchService", "error", err)
		os.Exit(1)
	}
	chatService, err := services.NewChatService(log, composer, conversationRepo, events)
	if err != nil {
		log.Error("Could not init ChatService", "error", err)
		os.Exit(1)
	}

	// Jobs
	log.Info("Setting up job workers from main...")
	scheduleCfg, err := jobs.LoadScheduleConfig()
	if err != nil {
		log.Error("Could not load schedule config", "error", err)
		os.Exit(1)
	}
	registry := jobs.NewRegistry()
	processHandler, err := jobhandlers.NewProcessContent(log, rawItemRepo, chunkRepo, normalizer, chk, chunker.DefaultOptions(), embedder, store, events)
	if err != nil {
		log.Error("Could not init process handler", "error", err)
		os.Exit(1)
	}
	evictHandler, err := jobhandlers.NewEvictIndex(log, store, scheduleCfg.Retention)
	if err != nil {
		log.Error("Could not init evict handler", "error", err)
		os.Exit(1)
	}
	digestHandler, err := jobhandlers.NewAssembleDigest(log, sourceRepo, rawItemRepo, chunkRepo, 0, events)
	if err != nil {
		log.Error("Could not init digest handler", "error", err)
		os.Exit(1)
	}
	for _, h := range []jobs.Handler{processHandler, evictHandler, digestHandler} {
		if err := registry.Register(h); err != nil {
			log.Error("Could not register job handler", "kind", h.Kind(), "error", err)
			os.Exit(1)
		}
	}
	pool, err := jobs.NewWorkerPool(log, jobRepo, registry, sourceRepo, rawItemRepo, utils.GetEnvAsInt("JOB_WORKERS", 2, log),
		jobs.WithEmbedGate(limiter, types.JobKindProcessContent))
	if err != nil {
		log.Error("Could not init worker pool", "error", err)
		os.Exit(1)
	}
	pool.Start(ctx)
	scheduler, err := jobs.NewScheduler(log, scheduleCfg, jobRepo, sourceRepo)
	if err != nil {
		log.Error("Could not init scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start(ctx)

	// Event forwarder
	eventLog := log.With("component", "EventForwarder")
	if err := events.StartForwarder(ctx, func(e realtime.Event) {
		eventLog.Info("event", "kind", e.Kind, "user_id", e.UserID)
	}); err != nil {
		log.Warn("Event forwarder not started", "error", err)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	contentHandler := httphandlers.NewContentHandler(ingestionService)
	searchHandler := httphandlers.NewSearchHandler(searchService)
	chatHandler := httphandlers.NewChatHandler(chatService)
	healthHandler := httphandlers.NewHealthHandler()

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ServiceName:    "driftnote",
		ContentHandler: contentHandler,
		SearchHandler:  searchHandler,
		ChatHandler:    chatHandler,
		HealthHandler:  healthHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
