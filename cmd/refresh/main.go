// Command refresh runs one full index and cache refresh cycle and exits,
// for cron-driven deployments that keep the API process read-only.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/identity"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/repository"
	"github.com/denikryt/PeerTube-browser-sub000/internal/service"
	"github.com/denikryt/PeerTube-browser-sub000/internal/storage"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Minute, "abort the cycle after this long")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
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
	if err := simCache.Open(); err != nil {
		appLogger.WithError(err).Warn("Failed to load similarity cache")
	}
	if err := randomPool.Open(); err != nil {
		appLogger.WithError(err).Warn("Failed to load random pool")
	}

	refresher := service.NewRefresher(
		cfg,
		repository.NewEmbeddingRepository(db),
		repository.NewVideoRepository(db),
		repository.NewModerationRepository(db),
		identity.NewMapper(nil),
		index.NewService(),
		remote,
		simCache,
		randomPool,
		artifactStore,
		appLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := refresher.RunOnce(ctx); err != nil {
		appLogger.WithError(err).Fatal("Refresh failed")
	}
	appLogger.Info("Refresh finished")
}
