package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/service"
)

const defaultSimilarLimit = 20

// SimilarHandler serves the similar-videos endpoints.
type SimilarHandler struct {
	similar *service.SimilarService
}

func NewSimilarHandler(similar *service.SimilarService) *SimilarHandler {
	return &SimilarHandler{similar: similar}
}

// SimilarResponse lists neighbors, best first.
type SimilarResponse struct {
	Items []ItemPayload `json:"items"`
}

// Similar handles GET /api/v1/videos/:uuid/similar?host=...&limit=...
func (h *SimilarHandler) Similar(c *gin.Context) {
	host := c.Query("host")
	if host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'host' is required"})
		return
	}
	limit := defaultSimilarLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	ref := domain.VideoRef{UUID: c.Param("uuid"), Host: host}
	candidates, err := h.similar.Similar(c.Request.Context(), ref, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SimilarResponse{Items: toItems(candidates)})
}

// SimilarBatchRequest is the POST /api/v1/videos/similar body.
type SimilarBatchRequest struct {
	Videos []RefPayload `json:"videos" binding:"required,min=1"`
	Limit  int          `json:"limit"`
}

// SimilarBatch handles POST /api/v1/videos/similar.
func (h *SimilarHandler) SimilarBatch(c *gin.Context) {
	var req SimilarBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	refs := make([]domain.VideoRef, 0, len(req.Videos))
	for _, v := range req.Videos {
		refs = append(refs, v.ref())
	}

	candidates, err := h.similar.SimilarBatch(c.Request.Context(), refs, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SimilarResponse{Items: toItems(candidates)})
}
