package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/api"
	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/identity"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/repository"
	"github.com/denikryt/PeerTube-browser-sub000/internal/service"
	"github.com/denikryt/PeerTube-browser-sub000/internal/signals"
	"github.com/denikryt/PeerTube-browser-sub000/internal/source"
	"github.com/denikryt/PeerTube-browser-sub000/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	videoRepo := repository.NewVideoRepository(db)
	embeddingRepo := repository.NewEmbeddingRepository(db)
	moderationRepo := repository.NewModerationRepository(db)

	// Index backend: in-process generations by default, qdrant optional.
	indexService := index.NewService()
	var remote *index.RemoteIndex
	if cfg.Index.Backend == "qdrant" {
		remote, err = index.NewRemoteIndex(&index.RemoteConfig{
			Host:       cfg.Index.Qdrant.Host,
			Port:       cfg.Index.Qdrant.Port,
			Collection: cfg.Index.Qdrant.Collection,
			APIKey:     cfg.Index.Qdrant.APIKey,
			UseTLS:     cfg.Index.Qdrant.UseTLS,
			Dim:        cfg.Index.Dim,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to connect to qdrant")
		}
		defer remote.Close()
	}

	artifactStore, err := storage.NewFromConfig(&cfg.Artifacts)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize artifact store")
	}

	simCache := cache.NewSimilarityCache(
		filepath.Join(cfg.Cache.Dir, "similarity.json"),
		cfg.Cache.SimilarityK,
		cfg.Cache.SimilarityDepth,
	)
	randomPool := cache.NewRandomPool(
		filepath.Join(cfg.Cache.Dir, "random_pool.json"),
		cache.RandomPoolConfig{
			MaxSize:        cfg.Cache.RandomPoolSize,
			MaxPerAuthor:   cfg.Cache.PoolMaxAuthor,
			MaxPerInstance: cfg.Cache.PoolMaxInstance,
		},
	)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	service.BootstrapArtifacts(bootCtx, artifactStore, appLogger, simCache.Path(), randomPool.Path())
	bootCancel()

	if err := simCache.Open(); err != nil {
		appLogger.WithError(err).Warn("Failed to load similarity cache, serving cold")
	}
	if err := randomPool.Open(); err != nil {
		appLogger.WithError(err).Warn("Failed to load random pool, serving cold")
	}

	mapper := identity.NewMapper(nil)

	refresher := service.NewRefresher(
		cfg, embeddingRepo, videoRepo, moderationRepo,
		mapper, indexService, remote, simCache, randomPool,
		artifactStore, appLogger,
	)

	// Searcher and vector access depend on the backend.
	var searcher index.Searcher = indexService
	var vectors source.VectorGetter = indexService
	if remote != nil {
		searcher = remote
		vectors = nil
	}

	var signalFetcher source.SignalFetcher
	if cfg.Signals.Enabled {
		signalFetcher = signals.NewClient(&signals.Config{
			Enabled: cfg.Signals.Enabled,
			BaseURL: cfg.Signals.BaseURL,
			Timeout: cfg.Signals.Timeout,
		})
	}

	exploit := source.NewExploit(simCache, searcher, mapper)
	refresher.AddMemoInvalidator(exploit)
	sources := []source.Source{
		exploit,
		source.NewExplore(searcher, mapper),
		source.NewFresh(simCache, videoRepo, mapper),
		source.NewPopular(videoRepo, vectors, signalFetcher, 90, 300),
		source.NewRandom(randomPool, videoRepo, vectors),
	}

	recommendService := service.NewRecommendService(
		&cfg.Recommend, videoRepo, mapper, vectors,
		sources, refresher, nil, appLogger,
	)
	similarService := service.NewSimilarService(
		simCache, searcher, vectors, mapper, videoRepo, appLogger,
	)

	router := api.SetupRouter(&api.Deps{
		Config:     cfg,
		DB:         db,
		Index:      indexService,
		SimCache:   simCache,
		RandomPool: randomPool,
		Videos:     videoRepo,
		Embeddings: embeddingRepo,
		Recommend:  recommendService,
		Similar:    similarService,
		Refresher:  refresher,
		Logger:     appLogger,
	})

	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	go refresher.Run(refreshCtx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	refreshCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}
	refresher.Wait()

	appLogger.Info("Server exited")
}
