// Package api wires the HTTP surface: routing, middleware, handlers.
package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/denikryt/PeerTube-browser-sub000/internal/api/handler"
	"github.com/denikryt/PeerTube-browser-sub000/internal/api/middleware"
	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/repository"
	"github.com/denikryt/PeerTube-browser-sub000/internal/service"
)

// Deps bundles everything the router needs.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Index      *index.Service
	SimCache   *cache.SimilarityCache
	RandomPool *cache.RandomPool
	Videos     *repository.VideoRepository
	Embeddings *repository.EmbeddingRepository
	Recommend  *service.RecommendService
	Similar    *service.SimilarService
	Refresher  *service.Refresher
	Logger     *logger.Logger
}

// SetupRouter configures the Gin engine with all routes.
func SetupRouter(d *Deps) *gin.Engine {
	switch d.Config.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(d.Config.Server.CORS))
	if d.Config.Server.MaxBodyBytes > 0 {
		r.Use(middleware.BodyLimit(d.Config.Server.MaxBodyBytes))
	}

	healthHandler := handler.NewHealthHandler(d.DB, d.Index, d.SimCache)
	recommendHandler := handler.NewRecommendHandler(d.Recommend)
	similarHandler := handler.NewSimilarHandler(d.Similar)
	adminHandler := handler.NewAdminHandler(d.Refresher, d.Videos, d.Embeddings, d.Index, d.SimCache, d.RandomPool, d.Logger)

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/recommendations", recommendHandler.Recommend)

		v1.GET("/videos/:uuid/similar", similarHandler.Similar)
		v1.POST("/videos/similar", similarHandler.SimilarBatch)

		v1.GET("/stats", adminHandler.Stats)

		admin := v1.Group("/admin")
		{
			admin.POST("/refresh", adminHandler.TriggerRefresh)
			admin.GET("/refresh/status", adminHandler.RefreshStatus)
		}
	}

	return r
}
