package source

import (
	"context"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
)

// Random serves wildcards from the precomputed random pool. With seeds it
// additionally drops entries too close to the seed centroid, so the layer
// stays an exploration device rather than a second exploit pass.
type Random struct {
	pool    *cache.RandomPool
	videos  VideoStore
	vectors VectorGetter
}

func NewRandom(pool *cache.RandomPool, videos VideoStore, vectors VectorGetter) *Random {
	return &Random{pool: pool, videos: videos, vectors: vectors}
}

func (r *Random) Layer() domain.Layer { return domain.LayerRandom }

func (r *Random) Gather(ctx context.Context, req *Request, n int) (*domain.Pool, error) {
	pool := &domain.Pool{Layer: domain.LayerRandom}
	snap := r.pool.Current()
	if snap == nil || snap.Len() == 0 {
		pool.Underflow = n > 0
		return pool, nil
	}

	seeds := req.SeedSet()
	var centroid []float32
	if req.HasSeeds() {
		centroid = req.SeedCentroid()
	}
	simCap := req.Profile.RandomSimilarityCap

	// Oversample so seed exclusion and the similarity cap still leave n.
	drawn := snap.Sample(req.Rng, n*3)
	kept := make([]uint64, 0, n)
	sims := make(map[uint64]float64, n)
	for _, id := range drawn {
		if _, isSeed := seeds[id]; isSeed {
			continue
		}
		if centroid != nil {
			if sim, ok := similarityTo(r.vectors, id, centroid); ok {
				if sim > simCap {
					continue
				}
				sims[id] = sim
			}
		}
		kept = append(kept, id)
		if len(kept) == n {
			break
		}
	}
	if len(kept) == 0 {
		pool.Underflow = n > 0
		return pool, nil
	}

	metas, err := r.videos.GetByAnnIDs(ctx, kept)
	if err != nil {
		logger.CtxWarn(ctx, "random metadata fetch: %v", err)
		return pool, nil
	}
	out := make([]*domain.Candidate, 0, len(kept))
	for _, id := range kept {
		video, ok := metas[id]
		if !ok {
			continue
		}
		c := &domain.Candidate{Ref: video.Ref(), AnnID: id, Video: video, Layer: domain.LayerRandom}
		if sim, ok := sims[id]; ok {
			c.SetSimilarity(sim)
		}
		out = append(out, c)
	}
	pool.Candidates = out
	pool.Underflow = len(out) < n
	return pool, nil
}
