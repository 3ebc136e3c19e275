package source

import (
	"context"
	"math"
	"sort"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/scorer"
	"github.com/denikryt/PeerTube-browser-sub000/internal/signals"
)

// SignalFetcher supplies external interaction signals for a batch of refs.
// A nil fetcher is valid; popularity then rests on stored counters alone.
type SignalFetcher interface {
	BatchGet(ctx context.Context, refs []domain.VideoRef) map[string]signals.Signal
}

// Popular draws from the most-viewed slice of the corpus. With seeds the
// draw is a weighted sample without replacement where the weight is the
// candidate's similarity to the seed centroid raised to the profile gamma;
// without seeds it is popularity order with a small random jitter so
// consecutive guest batches do not repeat verbatim.
type Popular struct {
	videos  VideoStore
	vectors VectorGetter
	signals SignalFetcher

	// horizonDays bounds how far back the most-viewed query looks.
	horizonDays int
	// poolSize is how many top videos to consider before sampling.
	poolSize int
}

func NewPopular(videos VideoStore, vectors VectorGetter, sig SignalFetcher, horizonDays, poolSize int) *Popular {
	if horizonDays <= 0 {
		horizonDays = 90
	}
	if poolSize <= 0 {
		poolSize = 300
	}
	return &Popular{videos: videos, vectors: vectors, signals: sig, horizonDays: horizonDays, poolSize: poolSize}
}

func (p *Popular) Layer() domain.Layer { return domain.LayerPopular }

func (p *Popular) Gather(ctx context.Context, req *Request, n int) (*domain.Pool, error) {
	pool := &domain.Pool{Layer: domain.LayerPopular}

	videos, err := p.videos.MostViewed(ctx, p.horizonDays, p.poolSize)
	if err != nil {
		logger.CtxWarn(ctx, "popular fetch: %v", err)
		return pool, nil
	}
	if len(videos) == 0 {
		pool.Underflow = n > 0
		return pool, nil
	}

	sig := map[string]signals.Signal{}
	if p.signals != nil {
		refs := make([]domain.VideoRef, 0, len(videos))
		for i := range videos {
			refs = append(refs, videos[i].Ref())
		}
		sig = p.signals.BatchGet(ctx, refs)
	}

	seeds := req.SeedSet()
	candidates := make([]*domain.Candidate, 0, len(videos))
	for i := range videos {
		if _, isSeed := seeds[videos[i].AnnID]; isSeed {
			continue
		}
		c := &domain.Candidate{
			Ref:   videos[i].Ref(),
			AnnID: videos[i].AnnID,
			Video: &videos[i],
			Layer: domain.LayerPopular,
		}
		s := sig[c.Ref.Key()]
		c.Popularity = scorer.Popularity(videos[i].Views, videos[i].Likes, s.Score, videos[i].PublishedAt, req.Now)
		candidates = append(candidates, c)
	}

	var picked []*domain.Candidate
	if req.HasSeeds() && p.vectors != nil {
		picked = p.sampleBySimilarity(req, candidates, n)
	} else {
		picked = p.sampleByPopularity(req, candidates, n)
	}
	picked = capAuthors(picked, req.Profile.MaxPerAuthor)

	pool.Candidates = picked
	pool.Underflow = len(picked) < n
	return pool, nil
}

// sampleBySimilarity draws n candidates without replacement with weight
// sim^gamma; a candidate twice as similar is proportionally more likely in
// every draw. Uses the exponent-key trick: the n largest u^(1/w) win.
func (p *Popular) sampleBySimilarity(req *Request, candidates []*domain.Candidate, n int) []*domain.Candidate {
	centroid := req.SeedCentroid()
	if centroid == nil {
		return p.sampleByPopularity(req, candidates, n)
	}
	gamma := req.Profile.PopularGamma
	if gamma <= 0 {
		gamma = 1
	}

	type keyed struct {
		c   *domain.Candidate
		key float64
	}
	ks := make([]keyed, 0, len(candidates))
	for _, c := range candidates {
		sim, ok := similarityTo(p.vectors, c.AnnID, centroid)
		if !ok {
			continue
		}
		c.SetSimilarity(sim)
		w := math.Pow(math.Max(sim, 0), gamma)
		if w <= 0 {
			continue
		}
		u := req.Rng.Float64()
		ks = append(ks, keyed{c: c, key: math.Pow(u, 1/w)})
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].key > ks[j].key })
	if len(ks) > n {
		ks = ks[:n]
	}
	out := make([]*domain.Candidate, len(ks))
	for i := range ks {
		out[i] = ks[i].c
	}
	return out
}

// sampleByPopularity orders by the decayed popularity score with uniform
// jitter so the top of the list varies between batches.
func (p *Popular) sampleByPopularity(req *Request, candidates []*domain.Candidate, n int) []*domain.Candidate {
	type keyed struct {
		c   *domain.Candidate
		key float64
	}
	ks := make([]keyed, 0, len(candidates))
	for _, c := range candidates {
		jitter := 0.15 * req.Rng.Float64()
		ks = append(ks, keyed{c: c, key: c.Popularity + jitter})
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].key > ks[j].key })
	if len(ks) > n {
		ks = ks[:n]
	}
	out := make([]*domain.Candidate, len(ks))
	for i := range ks {
		out[i] = ks[i].c
	}
	return out
}
