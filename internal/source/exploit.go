package source

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
)

// Resolver maps ann_ids back to video identities.
type Resolver interface {
	Lookup(annID uint64) (domain.VideoRef, bool)
}

// Exploit is the likes-seeded layer: precomputed similarity-cache lookups
// per seed, live ANN as fallback, with bounded broadening when the pool
// comes up short.
type Exploit struct {
	simCache *cache.SimilarityCache
	searcher index.Searcher
	resolve  Resolver

	// liveMemo short-circuits repeated live fallback searches for hot
	// seeds between cache refreshes.
	liveMemo *lru.Cache[uint64, []cache.Neighbor]
}

// NewExploit wires the exploit source. searcher may be nil when no index
// is available; the source then serves cache hits only.
func NewExploit(simCache *cache.SimilarityCache, searcher index.Searcher, resolve Resolver) *Exploit {
	memo, _ := lru.New[uint64, []cache.Neighbor](1024)
	return &Exploit{
		simCache: simCache,
		searcher: searcher,
		resolve:  resolve,
		liveMemo: memo,
	}
}

func (e *Exploit) Layer() domain.Layer { return domain.LayerExploit }

// Gather accumulates neighbors of every seed, excluding the seeds
// themselves and deduplicating by video identity. When the pool misses the
// profile minimum it broadens in bounded steps: deeper search, looser
// similarity floor. Running out of steps returns the short pool, never an
// error.
func (e *Exploit) Gather(ctx context.Context, req *Request, n int) (*domain.Pool, error) {
	pool := &domain.Pool{Layer: domain.LayerExploit}
	if !req.HasSeeds() {
		return pool, nil
	}

	p := req.Profile
	minimum := p.MinPool
	if n > minimum {
		minimum = n
	}
	floor := p.SimilarityFloor
	depth := p.SearchDepth

	seeds := req.SeedSet()
	seen := make(map[string]struct{})
	var out []*domain.Candidate

	absorb := func(neighbors []cache.Neighbor) {
		for _, nb := range neighbors {
			if _, isSeed := seeds[nb.AnnID]; isSeed {
				continue
			}
			if nb.Similarity < floor {
				continue
			}
			ref, ok := e.resolve.Lookup(nb.AnnID)
			if !ok {
				continue
			}
			c := &domain.Candidate{Ref: ref, AnnID: nb.AnnID, Layer: domain.LayerExploit}
			c.SetSimilarity(nb.Similarity)
			out = dedupAppend(out, seen, c)
		}
	}

	// First pass: precomputed cache, live ANN only for cache misses.
	for _, seed := range req.Seeds {
		if neighbors, ok := e.simCache.Current().Lookup(seed.AnnID); ok {
			absorb(neighbors)
			continue
		}
		absorb(e.liveSearch(ctx, seed, depth))
	}

	// Bounded broadening: each step searches deeper with a looser floor.
	steps := 0
	for len(out) < minimum && steps < p.MaxSteps {
		steps++
		depth += p.DepthStep
		floor -= p.FloorStep
		if floor < 0 {
			floor = 0
		}
		for _, seed := range req.Seeds {
			absorb(e.searchLive(ctx, seed, depth))
		}
	}

	pool.Candidates = out
	pool.StepsTaken = steps
	pool.Underflow = len(out) < minimum
	if pool.Underflow {
		logger.CtxDebug(ctx, "exploit underflow: %d/%d after %d steps", len(out), minimum, steps)
	}
	return pool, nil
}

// liveSearch is the memoized base fallback for seeds absent from the
// similarity cache.
func (e *Exploit) liveSearch(ctx context.Context, seed Seed, depth int) []cache.Neighbor {
	if cached, ok := e.liveMemo.Get(seed.AnnID); ok {
		return cached
	}
	neighbors := e.searchLive(ctx, seed, depth)
	if neighbors != nil {
		e.liveMemo.Add(seed.AnnID, neighbors)
	}
	return neighbors
}

func (e *Exploit) searchLive(ctx context.Context, seed Seed, depth int) []cache.Neighbor {
	if e.searcher == nil || len(seed.Vector) == 0 {
		return nil
	}
	hits, err := e.searcher.Search(ctx, seed.Vector, depth, depth)
	if err != nil {
		// Absent index is expected before the first build; anything else
		// still degrades to an empty contribution from this seed.
		logger.CtxDebug(ctx, "exploit live search for %d: %v", seed.AnnID, err)
		return nil
	}
	neighbors := make([]cache.Neighbor, 0, len(hits))
	for _, h := range hits {
		neighbors = append(neighbors, cache.Neighbor{AnnID: h.AnnID, Similarity: h.Score})
	}
	return neighbors
}

// InvalidateMemo drops memoized live results, called after a cache/index
// promotion.
func (e *Exploit) InvalidateMemo() {
	e.liveMemo.Purge()
}
