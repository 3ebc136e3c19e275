package storage

import (
	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
)

// NewFromConfig builds the artifact store from application configuration.
// Returns nil when artifact publishing is disabled.
func NewFromConfig(cfg *config.ArtifactsConfig) (ArtifactStore, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	return NewS3Store(&S3Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Prefix:    cfg.Prefix,
	})
}
