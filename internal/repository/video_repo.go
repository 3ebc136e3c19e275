package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
)

// VideoRepository reads crawled video metadata. The crawler owns the rows;
// the engine only annotates AnnID.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a repository bound to db.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// GetByRef retrieves a video by its federation identity.
func (r *VideoRepository) GetByRef(ctx context.Context, ref domain.VideoRef) (*domain.Video, error) {
	ref = ref.Normalized()
	var video domain.Video
	if err := r.db.WithContext(ctx).First(&video, "uuid = ? AND host = ?", ref.UUID, ref.Host).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

// GetByAnnIDs batch-fetches videos for a set of ann_ids, keyed by ann_id.
// Missing ids are simply absent from the result.
func (r *VideoRepository) GetByAnnIDs(ctx context.Context, annIDs []uint64) (map[uint64]*domain.Video, error) {
	if len(annIDs) == 0 {
		return map[uint64]*domain.Video{}, nil
	}
	var videos []domain.Video
	if err := r.db.WithContext(ctx).Where("ann_id IN ?", annIDs).Find(&videos).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]*domain.Video, len(videos))
	for i := range videos {
		out[videos[i].AnnID] = &videos[i]
	}
	return out, nil
}

// SetAnnID records the index identity assigned to a video.
func (r *VideoRepository) SetAnnID(ctx context.Context, ref domain.VideoRef, annID uint64) error {
	ref = ref.Normalized()
	return r.db.WithContext(ctx).Model(&domain.Video{}).
		Where("uuid = ? AND host = ?", ref.UUID, ref.Host).
		Update("ann_id", annID).Error
}

// RecentWindow returns a random sample of videos published within the last
// windowDays, for the guest fresh layer.
func (r *VideoRepository) RecentWindow(ctx context.Context, windowDays, limit int) ([]domain.Video, error) {
	cutoff := time.Now().AddDate(0, 0, -windowDays)
	var videos []domain.Video
	// RANDOM() is understood by both sqlite and postgres.
	err := r.db.WithContext(ctx).
		Where("published_at >= ?", cutoff).
		Order("RANDOM()").
		Limit(limit).
		Find(&videos).Error
	return videos, err
}

// MostViewed returns the top videos by view count within a recency horizon,
// the raw material for the popular layer.
func (r *VideoRepository) MostViewed(ctx context.Context, horizonDays, limit int) ([]domain.Video, error) {
	cutoff := time.Now().AddDate(0, 0, -horizonDays)
	var videos []domain.Video
	err := r.db.WithContext(ctx).
		Where("published_at >= ?", cutoff).
		Order("views DESC").
		Limit(limit).
		Find(&videos).Error
	return videos, err
}

// Count reports the corpus size.
func (r *VideoRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Video{}).Count(&n).Error
	return n, err
}

// AuthorMeta is the diversity attribute slice of a video row, loaded in
// bulk for the random-pool builder.
type AuthorMeta struct {
	AnnID       uint64
	Host        string
	ChannelName string
	ChannelHost string
}

// ListAuthorMeta returns author and instance attributes for every indexed
// video, keyed by ann_id.
func (r *VideoRepository) ListAuthorMeta(ctx context.Context) (map[uint64]AuthorMeta, error) {
	var rows []AuthorMeta
	err := r.db.WithContext(ctx).
		Model(&domain.Video{}).
		Select("ann_id", "host", "channel_name", "channel_host").
		Where("ann_id <> 0").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]AuthorMeta, len(rows))
	for _, row := range rows {
		out[row.AnnID] = row
	}
	return out, nil
}
