package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Cardify/internal/config"
	db "github.com/markdave123-py/Cardify/internal/core/database"
	"github.com/markdave123-py/Cardify/internal/core/extraction"
	"github.com/markdave123-py/Cardify/internal/core/generation"
	"github.com/markdave123-py/Cardify/internal/core/llm"
	objectclient "github.com/markdave123-py/Cardify/internal/core/object-client"
	"github.com/markdave123-py/Cardify/internal/core/pipeline"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
	"github.com/markdave123-py/Cardify/internal/services"
)

type App struct {
	cfg      *config.Config
	log      *logger.Logger
	DBClient *db.DatabaseClient
	Pipeline *pipeline.Pipeline
	Server   *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, dbClient.Close)
	a.DBClient = dbClient
	log.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg, log)
	if err != nil {
		return nil, err
	}

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the llm: %w", err)
	}
	a.closers = append(a.closers, llmProvider.Close)

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.closers = append(a.closers, embedder.Close)

	var images extraction.Extractor
	if cfg.VisionEnabled {
		vision, err := extraction.NewImageExtractor(appCtx)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize vision: %w", err)
		}
		a.closers = append(a.closers, vision.Close)
		images = vision
	} else {
		log.Warn("vision disabled, image uploads will fail extraction")
	}
	registry := extraction.NewRegistry(extraction.NewPDFExtractor(true), images)

	genCfg := generation.DefaultConfig()
	genCfg.MaxTextLength = cfg.MaxTextLength
	genCfg.FlashcardTimeout = cfg.FlashcardTimeout
	genCfg.QuizTimeout = cfg.QuizTimeout
	generator := generation.NewGenerator(llmProvider, genCfg, log)

	quota := services.NewQuotaTracker(dbClient, services.QuotaConfig{
		DailyLimit: cfg.DailyGenerationLimit,
		Window:     cfg.QuotaWindow,
	})

	queue, err := newQueue(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, queue.Close)

	pipeCfg := pipeline.Config{
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		RetryPermanent: cfg.RetryPermanent,
		EmbedDim:       cfg.EmbedDim,
	}
	a.Pipeline = pipeline.New(dbClient, objClient, registry, generator, quota, queue, pipeCfg, log, pipeline.WithEmbedder(embedder))

	users := services.NewUserService(dbClient)
	docs := services.NewDocumentService(dbClient, objClient, quota, a.Pipeline, cfg.BucketName, log).
		WithEmbedder(embedder).
		WithGenerator(dbClient, generator, nil)
	a.Server = NewServer(cfg, log, users, docs)

	ok = true
	return a, nil
}

func newQueue(ctx context.Context, cfg *config.Config) (pipeline.Queue, error) {
	if cfg.QueueBackend == "redis" {
		q, err := pipeline.NewRedisQueue(ctx, cfg.RedisAddr, cfg.RedisQueue)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the redis queue: %w", err)
		}
		return q, nil
	}
	return pipeline.NewMemoryQueue(0), nil
}

// Run serves HTTP and runs the workers until ctx is cancelled, then drains both.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Pipeline.Start(gctx)

	g.Go(func() error {
		if err := a.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.log.Error("http shutdown", "error", err)
		}
		if err := a.Pipeline.Wait(shutdownCtx); err != nil {
			a.log.Warn("workers still running at shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close", "error", err)
		}
	}
	a.closers = nil
}
