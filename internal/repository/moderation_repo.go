package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
)

// ModerationRepository reads the denylist maintained by the moderation
// tooling.
type ModerationRepository struct {
	db *gorm.DB
}

// NewModerationRepository creates a repository bound to db.
func NewModerationRepository(db *gorm.DB) *ModerationRepository {
	return &ModerationRepository{db: db}
}

// LoadDenylist materializes the full denylist as a set for request-path
// lookups. Rows with an empty channel deny the whole instance.
func (r *ModerationRepository) LoadDenylist(ctx context.Context) (*domain.Denylist, error) {
	var entries []domain.DeniedEntry
	if err := r.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, err
	}
	var hosts, channels []string
	for _, e := range entries {
		if e.Channel == "" {
			hosts = append(hosts, e.Host)
			continue
		}
		channels = append(channels, e.Channel+"@"+domain.NormalizeHost(e.Host))
	}
	return domain.NewDenylist(hosts, channels), nil
}
