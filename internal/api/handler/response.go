package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/service"
)

// VideoPayload is the wire form of one recommended video.
type VideoPayload struct {
	UUID        string   `json:"uuid"`
	Host        string   `json:"host"`
	Title       string   `json:"title"`
	ChannelName string   `json:"channel_name"`
	ChannelHost string   `json:"channel_host"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Duration    int      `json:"duration"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Views       int64    `json:"views"`
	Likes       int64    `json:"likes"`
	PublishedAt string   `json:"published_at"`
}

// ItemPayload is one batch entry: the video plus ranking attribution.
type ItemPayload struct {
	Video      VideoPayload `json:"video"`
	Score      float64      `json:"score"`
	Layer      string       `json:"layer,omitempty"`
	Similarity *float64     `json:"similarity,omitempty"`
}

// RefPayload decodes a video reference from clients.
type RefPayload struct {
	UUID string `json:"uuid" binding:"required"`
	Host string `json:"host" binding:"required"`
}

func (p RefPayload) ref() domain.VideoRef {
	return domain.VideoRef{UUID: p.UUID, Host: p.Host}
}

func toItems(candidates []*domain.Candidate) []ItemPayload {
	items := make([]ItemPayload, 0, len(candidates))
	for _, c := range candidates {
		if c.Video == nil {
			continue
		}
		v := c.Video
		items = append(items, ItemPayload{
			Video: VideoPayload{
				UUID:        v.UUID,
				Host:        v.Host,
				Title:       v.Title,
				ChannelName: v.ChannelName,
				ChannelHost: v.ChannelHost,
				Category:    v.Category,
				Tags:        v.Tags,
				Duration:    v.Duration,
				Thumbnail:   v.Thumbnail,
				Views:       v.Views,
				Likes:       v.Likes,
				PublishedAt: v.PublishedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			},
			Score:      c.Score,
			Layer:      string(c.Layer),
			Similarity: c.Similarity,
		})
	}
	return items
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRefreshRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
