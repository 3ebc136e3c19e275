package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db       *gorm.DB
	index    *index.Service
	simCache *cache.SimilarityCache
}

// NewHealthHandler wires the health probes. index may be nil on the remote
// backend; readiness then skips the generation check.
func NewHealthHandler(db *gorm.DB, idx *index.Service, simCache *cache.SimilarityCache) *HealthHandler {
	return &HealthHandler{db: db, index: idx, simCache: simCache}
}

// Health handles GET /health: process liveness only.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /ready: reports whether the engine can serve batches
// and which dependency is missing when it cannot.
func (h *HealthHandler) Ready(c *gin.Context) {
	detail := gin.H{}
	ready := true

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		detail["database"] = "unreachable"
		ready = false
	} else {
		detail["database"] = "ok"
	}

	if h.index != nil {
		if gen := h.index.Current(); gen == nil {
			detail["index"] = "no generation promoted"
			ready = false
		} else {
			detail["index"] = gin.H{
				"generation": gen.Meta().Sequence,
				"count":      gen.Len(),
			}
		}
	}

	if snap := h.simCache.Current(); snap == nil {
		// Degraded but servable: live searches cover cache misses.
		detail["similarity_cache"] = "not loaded"
	} else {
		detail["similarity_cache"] = gin.H{"sources": snap.Len()}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "detail": detail})
}
