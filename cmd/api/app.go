package api

import (
	"context"
	"fmt"

	authDelivery "memtex-backend/internal/auth/delivery"
	authdomain "memtex-backend/internal/auth/domain"
	authRepo "memtex-backend/internal/auth/repository"
	authUsecase "memtex-backend/internal/auth/usecase"
	chatDelivery "memtex-backend/internal/chat/delivery"
	chatRepo "memtex-backend/internal/chat/repository"
	chatUsecase "memtex-backend/internal/chat/usecase"
	convDelivery "memtex-backend/internal/conversation/delivery"
	convRepo "memtex-backend/internal/conversation/repository"
	convUsecase "memtex-backend/internal/conversation/usecase"
	memoryDelivery "memtex-backend/internal/memory/delivery"
	memoryRepo "memtex-backend/internal/memory/repository"
	memoryUsecase "memtex-backend/internal/memory/usecase"
	"memtex-backend/pkg/ai"
	"memtex-backend/pkg/chroma"
	"memtex-backend/pkg/chromem"
	"memtex-backend/pkg/config"
	"memtex-backend/pkg/database"
	"memtex-backend/pkg/embedding"
	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/qdrant"
	"memtex-backend/pkg/queue"
	"memtex-backend/pkg/vectorindex"

	"gorm.io/gorm"
)

// App holds every long-lived dependency. The serve, worker and sweep
// commands each use the parts they need.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	DB          *gorm.DB
	Index       vectorindex.Index
	Queue       queue.Queue
	Producer    *queue.SummaryProducer
	Embedder    *embedding.Pool
	Settings    *RuntimeSettings
	Reasoning   *ai.FallbackService
	Cheap       *ai.FallbackService
	Auth        authUsecase.AuthUsecase
	Sync        convUsecase.ConversationUsecase
	Memory      *memoryUsecase.MemoryStore
	Retriever   *memoryUsecase.Retriever
	Worker      *memoryUsecase.SummaryWorker
	Maintenance *memoryUsecase.Maintenance
	Chat        chatUsecase.ChatUsecase
}

// NewApp connects to the database, vector index and queue and builds the
// use cases on top of them.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	embedder, err := embedding.NewGeminiPool(log, cfg.GoogleAPIKeys, cfg.EmbedModel)
	if err != nil {
		return nil, err
	}

	index, err := newIndex(cfg, log, embedder)
	if err != nil {
		return nil, err
	}
	if err := index.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare vector collection: %w", err)
	}

	q, err := newQueue(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	producer := queue.NewSummaryProducer(q, log)

	settings := NewRuntimeSettings(cfg.OllamaBaseURL, cfg.OllamaModel)
	factory := ai.NewGeneratorFactory(ai.Config{
		Temperature:      0.3,
		GetOllamaBaseURL: settings.OllamaBaseURL,
		GetOllamaModel:   settings.OllamaModel,
	})
	reasoning := ai.NewFallbackService(log, reasoningPools(cfg), factory)
	cheap := ai.NewFallbackService(log, cheapPools(cfg), factory)

	convSummaries := memoryRepo.NewConversationSummaryRepository(db)
	topics := memoryRepo.NewTopicSummaryRepository(db)

	syncUc := convUsecase.NewConversationUsecase(convRepo.NewConversationRepository(db), producer, log)
	store := memoryUsecase.NewMemoryStore(embedder, index, topics, log)
	retriever := memoryUsecase.NewRetriever(embedder, index, convSummaries, topics, log)
	worker := memoryUsecase.NewSummaryWorker(syncUc, convSummaries, cheap, embedder, index, log)
	maintenance := memoryUsecase.NewMaintenance(index, convSummaries, topics, producer, cfg.PendingRepairWait, log)

	classifier := chatUsecase.NewClassifier(cheap, cfg.UpstreamTimeout, log)
	orchestrator := chatUsecase.NewOrchestrator(classifier, retriever, reasoning, cfg.RotateCredentials, log)
	chatUc := chatUsecase.NewChatUsecase(chatRepo.NewSessionRepository(db), orchestrator, store, log)

	log.Info("application initialized",
		"vector_driver", cfg.VectorDriver,
		"queue_driver", cfg.QueueDriver,
		"google_keys", len(cfg.GoogleAPIKeys),
		"anthropic_keys", len(cfg.AnthropicAPIKeys),
	)

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Index:       index,
		Queue:       q,
		Producer:    producer,
		Embedder:    embedder,
		Settings:    settings,
		Reasoning:   reasoning,
		Cheap:       cheap,
		Auth:        authUsecase.NewAuthUsecase(authRepo.NewAPIKeyRepository(db), cfg, log),
		Sync:        syncUc,
		Memory:      store,
		Retriever:   retriever,
		Worker:      worker,
		Maintenance: maintenance,
		Chat:        chatUc,
	}, nil
}

// Server builds the HTTP API on top of the app.
func (a *App) Server() *Server {
	return NewServer(a.Auth, Handlers{
		Auth:     authDelivery.NewAuthHandler(a.Auth),
		Sync:     convDelivery.NewSyncHandler(a.Sync),
		Chat:     chatDelivery.NewChatHandler(a.Chat, a.Log),
		Memory:   memoryDelivery.NewMemoryHandler(a.Memory, a.Log),
		Settings: NewSettingsHandler(a.Settings),
	}, a.Config.IsProduction(), a.Log)
}

func (a *App) Close() {
	if err := a.Queue.Close(); err != nil {
		a.Log.Warn("failed to close queue", "error", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&authdomain.UserAPIKey{}); err != nil {
		return err
	}
	if err := convRepo.Migrate(db); err != nil {
		return err
	}
	if err := memoryRepo.Migrate(db); err != nil {
		return err
	}
	return chatRepo.Migrate(db)
}

func newIndex(cfg *config.Config, log *logger.Logger, embedder *embedding.Pool) (vectorindex.Index, error) {
	switch cfg.VectorDriver {
	case "qdrant", "":
		return qdrant.NewClient(log, qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.VectorCollection,
			VectorDim:  cfg.VectorDim,
			Timeout:    cfg.UpstreamTimeout,
		})
	case "chroma":
		return chroma.NewChromaClient(log, cfg, embedder.EmbeddingFunction())
	case "chromem":
		return chromem.New(cfg.VectorCollection), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_DRIVER %q", cfg.VectorDriver)
	}
}

func newQueue(ctx context.Context, cfg *config.Config, log *logger.Logger) (queue.Queue, error) {
	switch cfg.QueueDriver {
	case "redis", "":
		return queue.NewRedisQueue(log, queue.RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			Name:        cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
		})
	case "pubsub":
		if cfg.GoogleProjectID == "" {
			return nil, fmt.Errorf("GOOGLE_PROJECT_ID is required for the pubsub queue")
		}
		return queue.NewPubSubQueue(ctx, log, queue.PubSubConfig{
			ProjectID:       cfg.GoogleProjectID,
			Topic:           cfg.PubSubTopic,
			Subscription:    cfg.PubSubSubscription,
			DeadLetterTopic: cfg.PubSubDeadLetterTopic,
			CredentialsFile: cfg.GoogleCredentials,
			Concurrency:     cfg.WorkerConcurrency,
		})
	case "memory":
		return queue.NewMemoryQueue(log, cfg.WorkerConcurrency), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_DRIVER %q", cfg.QueueDriver)
	}
}

// reasoningPools is the streaming fallback matrix: Gemini keys first, then
// Anthropic, then the local Ollama model when configured.
func reasoningPools(cfg *config.Config) []ai.Pool {
	pools := []ai.Pool{
		{Provider: ai.ProviderGemini, Keys: cfg.GoogleAPIKeys, Models: cfg.GeminiModels},
		{Provider: ai.ProviderAnthropic, Keys: cfg.AnthropicAPIKeys, Models: cfg.AnthropicModels},
	}
	if cfg.OllamaBaseURL != "" {
		pools = append(pools, ai.Pool{Provider: ai.ProviderOllama, Models: []string{cfg.OllamaModel}})
	}
	return pools
}

// cheapPools serves classification and summarization.
func cheapPools(cfg *config.Config) []ai.Pool {
	pools := []ai.Pool{{Provider: ai.ProviderGemini, Keys: cfg.GoogleAPIKeys, Models: []string{cfg.CheapModel}}}
	if len(cfg.AnthropicModels) > 0 {
		pools = append(pools, ai.Pool{Provider: ai.ProviderAnthropic, Keys: cfg.AnthropicAPIKeys, Models: cfg.AnthropicModels[len(cfg.AnthropicModels)-1:]})
	}
	if cfg.OllamaBaseURL != "" {
		pools = append(pools, ai.Pool{Provider: ai.ProviderOllama, Models: []string{cfg.OllamaModel}})
	}
	return pools
}
