package source

import (
	"context"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
)

// Explore surfaces adjacent-but-not-duplicate content: ANN hits inside a
// configured similarity band, with the closest (most obvious) matches
// excluded. Empty for guests.
type Explore struct {
	searcher index.Searcher
	resolve  Resolver
}

// NewExplore wires the explore source.
func NewExplore(searcher index.Searcher, resolve Resolver) *Explore {
	return &Explore{searcher: searcher, resolve: resolve}
}

func (e *Explore) Layer() domain.Layer { return domain.LayerExplore }

func (e *Explore) Gather(ctx context.Context, req *Request, n int) (*domain.Pool, error) {
	pool := &domain.Pool{Layer: domain.LayerExplore}
	if !req.HasSeeds() || e.searcher == nil {
		return pool, nil
	}

	p := req.Profile
	seeds := req.SeedSet()
	seen := make(map[string]struct{})
	var out []*domain.Candidate

	for _, seed := range req.Seeds {
		if len(seed.Vector) == 0 {
			continue
		}
		// The band sits below the head of the result list, so the search
		// has to go deeper than the ask to reach it.
		hits, err := e.searcher.Search(ctx, seed.Vector, p.SearchDepth, p.SearchDepth)
		if err != nil {
			logger.CtxDebug(ctx, "explore search for %d: %v", seed.AnnID, err)
			continue
		}
		for _, h := range hits {
			if h.Score < p.ExploreBandLow || h.Score >= p.ExploreBandHigh {
				continue
			}
			if _, isSeed := seeds[h.AnnID]; isSeed {
				continue
			}
			ref, ok := e.resolve.Lookup(h.AnnID)
			if !ok {
				continue
			}
			c := &domain.Candidate{Ref: ref, AnnID: h.AnnID, Layer: domain.LayerExplore}
			c.SetSimilarity(h.Score)
			out = dedupAppend(out, seen, c)
		}
		if len(out) >= n {
			break
		}
	}

	if len(out) > n {
		// Trim from a shuffled order so the band is not always drained
		// from the same end.
		req.Rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		out = out[:n]
	}
	pool.Candidates = out
	pool.Underflow = len(out) < n
	return pool, nil
}
