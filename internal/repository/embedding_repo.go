package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
)

// EmbeddingRepository reads the vector rows the external embedding job
// produces. Rows are keyed by ann_id and consumed wholesale at index-build
// time.
type EmbeddingRepository struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a repository bound to db.
func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// EncodeVector packs a float32 vector into the little-endian blob layout
// the embedding job writes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector unpacks a stored blob; dim guards against truncated rows.
func DecodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d for dim %d", len(blob), 4*dim, dim)
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// Upsert writes one embedding row under its ann_id.
func (r *EmbeddingRepository) Upsert(ctx context.Context, e *domain.Embedding) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ann_id"}},
		UpdateAll: true,
	}).Create(e).Error
}

// DeleteByAnnIDs removes embedding rows for purged videos.
func (r *EmbeddingRepository) DeleteByAnnIDs(ctx context.Context, annIDs []uint64) error {
	if len(annIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("ann_id IN ?", annIDs).Delete(&domain.Embedding{}).Error
}

// Count reports the number of embedded videos.
func (r *EmbeddingRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Embedding{}).Count(&n).Error
	return n, err
}

// ListRows streams every embedding as index build input. Rows whose blob
// does not match dim are skipped and counted, not fatal: one bad row must
// not block a rebuild of the whole corpus.
func (r *EmbeddingRepository) ListRows(ctx context.Context, dim int) ([]index.VectorRow, int, error) {
	var embeddings []domain.Embedding
	if err := r.db.WithContext(ctx).Find(&embeddings).Error; err != nil {
		return nil, 0, err
	}
	rows := make([]index.VectorRow, 0, len(embeddings))
	skipped := 0
	for i := range embeddings {
		vec, err := DecodeVector(embeddings[i].Vector, dim)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, index.VectorRow{AnnID: embeddings[i].AnnID, Vector: vec})
	}
	return rows, skipped, nil
}

// ListRefs returns identity back-references for every embedding row,
// keyed by ann_id.
func (r *EmbeddingRepository) ListRefs(ctx context.Context) (map[uint64]domain.VideoRef, error) {
	var embeddings []domain.Embedding
	if err := r.db.WithContext(ctx).Select("ann_id", "uuid", "host").Find(&embeddings).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]domain.VideoRef, len(embeddings))
	for i := range embeddings {
		out[embeddings[i].AnnID] = embeddings[i].Ref()
	}
	return out, nil
}
