// Package signals reads the aggregated interaction-signal store owned by an
// external collaborator: per-video likes, undo-likes, comment counts and a
// derived signal score. The store is a soft input; every failure degrades to
// "no signal" instead of failing the request.
package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
)

// Signal is one video's aggregated interaction counters.
type Signal struct {
	Likes     int64   `json:"likes"`
	UndoLikes int64   `json:"undo_likes"`
	Comments  int64   `json:"comments"`
	Score     float64 `json:"score"`
}

// Config holds connection settings for the signal store.
type Config struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

// Client is the read-only HTTP client for the signal store.
type Client struct {
	http    *resty.Client
	enabled bool
}

// NewClient creates a client; a disabled client answers every lookup with
// an empty result.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Content-Type", "application/json")

	return &Client{http: client, enabled: cfg.Enabled}
}

type batchRequest struct {
	Videos []domain.VideoRef `json:"videos"`
}

type batchResponse struct {
	Signals map[string]Signal `json:"signals"`
}

// BatchGet fetches signals for a set of videos, keyed by ref.Key(). Videos
// without signals are simply absent. Transport failures are logged and
// answered with an empty map; popularity scoring then runs on crawl
// counters alone.
func (c *Client) BatchGet(ctx context.Context, refs []domain.VideoRef) map[string]Signal {
	if !c.enabled || len(refs) == 0 {
		return map[string]Signal{}
	}

	var out batchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(batchRequest{Videos: refs}).
		SetResult(&out).
		Post("/v1/signals/batch")
	if err != nil {
		logger.CtxWarn(ctx, "signal store unreachable: %v", err)
		return map[string]Signal{}
	}
	if resp.IsError() {
		logger.CtxWarn(ctx, "signal store returned %s", resp.Status())
		return map[string]Signal{}
	}
	if out.Signals == nil {
		return map[string]Signal{}
	}
	return out.Signals
}

// Get fetches one video's signal.
func (c *Client) Get(ctx context.Context, ref domain.VideoRef) (Signal, bool) {
	if !c.enabled {
		return Signal{}, false
	}
	var sig Signal
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&sig).
		Get(fmt.Sprintf("/v1/signals/%s/%s", ref.Normalized().Host, ref.UUID))
	if err != nil || resp.IsError() {
		return Signal{}, false
	}
	return sig, true
}
