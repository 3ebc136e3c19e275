package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/service"
)

// RecommendHandler serves the batch recommendation endpoint.
type RecommendHandler struct {
	recommend *service.RecommendService
}

func NewRecommendHandler(recommend *service.RecommendService) *RecommendHandler {
	return &RecommendHandler{recommend: recommend}
}

// RecommendRequest is the POST /api/v1/recommendations body. Every field
// is optional; an empty body yields the default-sized home guest batch.
// Seed identifies the currently watched video on the continuation surface.
type RecommendRequest struct {
	Surface string       `json:"surface"`
	Seed    *RefPayload  `json:"seed"`
	Likes   []RefPayload `json:"likes"`
	Limit   int          `json:"limit"`
	Debug   bool         `json:"debug"`
}

// RecommendResponse is the batch plus optional diagnostics.
type RecommendResponse struct {
	Items       []ItemPayload        `json:"items"`
	Diagnostics *service.Diagnostics `json:"diagnostics,omitempty"`
}

// Recommend handles POST /api/v1/recommendations.
func (h *RecommendHandler) Recommend(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	likes := make([]domain.VideoRef, 0, len(req.Likes))
	for _, ref := range req.Likes {
		likes = append(likes, ref.ref())
	}
	var seed *domain.VideoRef
	if req.Seed != nil {
		r := req.Seed.ref()
		seed = &r
	}

	result, err := h.recommend.Recommend(c.Request.Context(), &service.RecommendRequest{
		Surface: req.Surface,
		Seed:    seed,
		Likes:   likes,
		Limit:   req.Limit,
		Debug:   req.Debug,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RecommendResponse{
		Items:       toItems(result.Candidates),
		Diagnostics: result.Diagnostics,
	})
}
