package source

import (
	"context"
	"sort"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
)

// Fresh is the recency-biased layer. With likes it draws from the seeds'
// similarity pool re-ordered by publish date; without likes it samples a
// recent window from the metadata store uniformly.
type Fresh struct {
	simCache *cache.SimilarityCache
	videos   VideoStore
	resolve  Resolver
}

// NewFresh wires the fresh source.
func NewFresh(simCache *cache.SimilarityCache, videos VideoStore, resolve Resolver) *Fresh {
	return &Fresh{simCache: simCache, videos: videos, resolve: resolve}
}

func (f *Fresh) Layer() domain.Layer { return domain.LayerFresh }

func (f *Fresh) Gather(ctx context.Context, req *Request, n int) (*domain.Pool, error) {
	if req.HasSeeds() {
		return f.gatherSeeded(ctx, req, n)
	}
	return f.gatherWindow(ctx, req, n)
}

// gatherSeeded takes the union of the seeds' cached neighbors and keeps the
// newest n by publish date.
func (f *Fresh) gatherSeeded(ctx context.Context, req *Request, n int) (*domain.Pool, error) {
	pool := &domain.Pool{Layer: domain.LayerFresh}
	seeds := req.SeedSet()

	sims := make(map[uint64]float64)
	for _, seed := range req.Seeds {
		neighbors, ok := f.simCache.Current().Lookup(seed.AnnID)
		if !ok {
			continue
		}
		for _, nb := range neighbors {
			if _, isSeed := seeds[nb.AnnID]; isSeed {
				continue
			}
			if s, dup := sims[nb.AnnID]; !dup || nb.Similarity > s {
				sims[nb.AnnID] = nb.Similarity
			}
		}
	}
	if len(sims) == 0 {
		// No cached pool for any seed: fall back to the window draw so
		// the layer still contributes.
		return f.gatherWindow(ctx, req, n)
	}

	annIDs := make([]uint64, 0, len(sims))
	for id := range sims {
		annIDs = append(annIDs, id)
	}
	metas, err := f.videos.GetByAnnIDs(ctx, annIDs)
	if err != nil {
		logger.CtxWarn(ctx, "fresh metadata fetch: %v", err)
		return pool, nil
	}

	out := make([]*domain.Candidate, 0, len(metas))
	for id, video := range metas {
		c := &domain.Candidate{Ref: video.Ref(), AnnID: id, Video: video, Layer: domain.LayerFresh}
		c.SetSimilarity(sims[id])
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Video.PublishedAt.After(out[j].Video.PublishedAt)
	})
	out = capAuthors(out, req.Profile.MaxPerAuthor)
	if len(out) > n {
		out = out[:n]
	}

	pool.Candidates = out
	pool.Underflow = len(out) < n
	return pool, nil
}

// gatherWindow is the no-signal path: a uniform random draw from the
// recent-window corpus.
func (f *Fresh) gatherWindow(ctx context.Context, req *Request, n int) (*domain.Pool, error) {
	pool := &domain.Pool{Layer: domain.LayerFresh}
	videos, err := f.videos.RecentWindow(ctx, req.Profile.FreshWindowDays, n*2)
	if err != nil {
		logger.CtxWarn(ctx, "fresh window fetch: %v", err)
		return pool, nil
	}

	out := make([]*domain.Candidate, 0, len(videos))
	for i := range videos {
		out = append(out, &domain.Candidate{
			Ref:   videos[i].Ref(),
			AnnID: videos[i].AnnID,
			Video: &videos[i],
			Layer: domain.LayerFresh,
		})
	}
	out = capAuthors(out, req.Profile.MaxPerAuthor)
	if len(out) > n {
		out = out[:n]
	}
	pool.Candidates = out
	pool.Underflow = len(out) < n
	return pool, nil
}

// capAuthors is the first-line per-author cap sources apply when they have
// metadata at hand; the mixer still enforces the global caps.
func capAuthors(pool []*domain.Candidate, maxPerAuthor int) []*domain.Candidate {
	if maxPerAuthor <= 0 {
		return pool
	}
	counts := make(map[string]int)
	out := pool[:0]
	for _, c := range pool {
		if c.Video == nil {
			out = append(out, c)
			continue
		}
		key := c.Video.AuthorKey()
		if counts[key] >= maxPerAuthor {
			continue
		}
		counts[key]++
		out = append(out, c)
	}
	return out
}
