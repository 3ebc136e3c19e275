package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/identity"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/source"
)

// SimilarService serves the similar-videos lookups: cache first, live ANN
// search as fallback for sources missing from the artifact.
type SimilarService struct {
	simCache *cache.SimilarityCache
	searcher index.Searcher
	vectors  source.VectorGetter
	mapper   *identity.Mapper
	videos   source.VideoStore
	logger   *logger.Logger
}

func NewSimilarService(
	simCache *cache.SimilarityCache,
	searcher index.Searcher,
	vectors source.VectorGetter,
	mapper *identity.Mapper,
	videos source.VideoStore,
	log *logger.Logger,
) *SimilarService {
	return &SimilarService{
		simCache: simCache,
		searcher: searcher,
		vectors:  vectors,
		mapper:   mapper,
		videos:   videos,
		logger:   log,
	}
}

// Similar returns the most similar videos to one source, best first.
func (s *SimilarService) Similar(ctx context.Context, ref domain.VideoRef, limit int) ([]*domain.Candidate, error) {
	ref = ref.Normalized()
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: invalid video reference", ErrBadRequest)
	}
	annID := identity.AnnID(ref.UUID, ref.Host)
	if _, known := s.mapper.Lookup(annID); !known {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}

	neighbors := s.neighborsOf(ctx, annID)
	if len(neighbors) == 0 {
		return nil, ErrNotReady
	}
	exclude := map[uint64]struct{}{annID: {}}
	return s.materialize(ctx, neighbors, exclude, limit)
}

// SimilarBatch unions the neighbor sets of several sources, keeping the
// best similarity per candidate and excluding the inputs themselves.
func (s *SimilarService) SimilarBatch(ctx context.Context, refs []domain.VideoRef, limit int) ([]*domain.Candidate, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: empty video list", ErrBadRequest)
	}

	exclude := make(map[uint64]struct{}, len(refs))
	merged := make(map[uint64]float64)
	resolved := 0
	for _, ref := range refs {
		ref = ref.Normalized()
		if !ref.Valid() {
			continue
		}
		annID := identity.AnnID(ref.UUID, ref.Host)
		if _, known := s.mapper.Lookup(annID); !known {
			continue
		}
		resolved++
		exclude[annID] = struct{}{}
		for _, nb := range s.neighborsOf(ctx, annID) {
			if cur, ok := merged[nb.AnnID]; !ok || nb.Similarity > cur {
				merged[nb.AnnID] = nb.Similarity
			}
		}
	}
	if resolved == 0 {
		return nil, fmt.Errorf("%w: no known videos in batch", ErrNotFound)
	}

	neighbors := make([]cache.Neighbor, 0, len(merged))
	for id, sim := range merged {
		neighbors = append(neighbors, cache.Neighbor{AnnID: id, Similarity: sim})
	}
	return s.materialize(ctx, neighbors, exclude, limit)
}

// neighborsOf reads the precomputed list, then tries a live search when the
// cache has no entry and the local vector is available.
func (s *SimilarService) neighborsOf(ctx context.Context, annID uint64) []cache.Neighbor {
	if neighbors, ok := s.simCache.Current().Lookup(annID); ok {
		return neighbors
	}
	if s.searcher == nil || s.vectors == nil {
		return nil
	}
	vec, ok := s.vectors.Vector(annID)
	if !ok {
		return nil
	}
	hits, err := s.searcher.Search(ctx, vec, 50, 200)
	if err != nil {
		logger.CtxDebug(ctx, "similar live search for %d: %v", annID, err)
		return nil
	}
	out := make([]cache.Neighbor, 0, len(hits))
	for _, h := range hits {
		out = append(out, cache.Neighbor{AnnID: h.AnnID, Similarity: h.Score})
	}
	return out
}

// materialize sorts, trims and hydrates a neighbor set into candidates.
func (s *SimilarService) materialize(ctx context.Context, neighbors []cache.Neighbor, exclude map[uint64]struct{}, limit int) ([]*domain.Candidate, error) {
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})

	ids := make([]uint64, 0, limit)
	sims := make(map[uint64]float64, limit)
	for _, nb := range neighbors {
		if _, skip := exclude[nb.AnnID]; skip {
			continue
		}
		if _, dup := sims[nb.AnnID]; dup {
			continue
		}
		ids = append(ids, nb.AnnID)
		sims[nb.AnnID] = nb.Similarity
		if len(ids) == limit {
			break
		}
	}

	metas, err := s.videos.GetByAnnIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading similar video metadata: %w", err)
	}
	out := make([]*domain.Candidate, 0, len(ids))
	for _, id := range ids {
		video, ok := metas[id]
		if !ok {
			continue
		}
		c := &domain.Candidate{Ref: video.Ref(), AnnID: id, Video: video}
		c.SetSimilarity(sims[id])
		out = append(out, c)
	}
	return out, nil
}
