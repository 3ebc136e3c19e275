package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/repository"
	"github.com/denikryt/PeerTube-browser-sub000/internal/service"
)

// AdminHandler exposes the refresh controls and corpus statistics.
type AdminHandler struct {
	refresher  *service.Refresher
	videos     *repository.VideoRepository
	embeddings *repository.EmbeddingRepository
	index      *index.Service
	simCache   *cache.SimilarityCache
	randomPool *cache.RandomPool
	logger     *logger.Logger
}

func NewAdminHandler(
	refresher *service.Refresher,
	videos *repository.VideoRepository,
	embeddings *repository.EmbeddingRepository,
	idx *index.Service,
	simCache *cache.SimilarityCache,
	randomPool *cache.RandomPool,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		refresher:  refresher,
		videos:     videos,
		embeddings: embeddings,
		index:      idx,
		simCache:   simCache,
		randomPool: randomPool,
		logger:     log,
	}
}

// TriggerRefresh handles POST /api/v1/admin/refresh. A running cycle makes
// this a conflict, not a queue.
func (h *AdminHandler) TriggerRefresh(c *gin.Context) {
	if err := h.refresher.Trigger(); err != nil {
		writeError(c, err)
		return
	}
	logger.CtxInfo(c.Request.Context(), "manual refresh triggered")
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh started"})
}

// RefreshStatus handles GET /api/v1/admin/refresh/status.
func (h *AdminHandler) RefreshStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.refresher.Status())
}

// Stats handles GET /api/v1/stats: corpus and artifact sizes.
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	videoCount, err := h.videos.Count(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	embeddingCount, err := h.embeddings.Count(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	stats := gin.H{
		"videos":     videoCount,
		"embeddings": embeddingCount,
		"denylist":   h.refresher.Denylist().Len(),
	}
	if h.index != nil {
		if gen := h.index.Current(); gen != nil {
			meta := gen.Meta()
			stats["index"] = gin.H{
				"generation":     meta.Sequence,
				"count":          gen.Len(),
				"dim":            meta.Dim,
				"scheme_version": meta.SchemeVersion,
				"built_at":       meta.BuiltAt,
			}
		}
	}
	if snap := h.simCache.Current(); snap != nil {
		stats["similarity_cache"] = gin.H{"sources": snap.Len(), "k": snap.K, "built_at": snap.BuiltAt}
	}
	if snap := h.randomPool.Current(); snap != nil {
		stats["random_pool"] = gin.H{"size": snap.Len(), "built_at": snap.BuiltAt}
	}

	c.JSON(http.StatusOK, stats)
}
