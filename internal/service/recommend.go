package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/identity"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/mixer"
	"github.com/denikryt/PeerTube-browser-sub000/internal/scorer"
	"github.com/denikryt/PeerTube-browser-sub000/internal/source"
)

// Surface names the two request shapes the engine serves.
const (
	SurfaceHome         = "home"
	SurfaceContinuation = "continuation"
)

// DenylistProvider hands out the active moderation set. The refresher
// implements it; the orchestrator never caches the result across requests.
type DenylistProvider interface {
	Denylist() *domain.Denylist
}

// RandomSource is the rand source factory for request-scoped generators.
type RandomSource func() int64

// RecommendRequest is one batch ask after transport decoding. An empty
// Surface means home. Seed carries the continuation surface's watch
// context: it steers the similarity layers but does not count as a taste
// signal, so a seed-only request still resolves to the guest profile.
type RecommendRequest struct {
	Surface string
	Seed    *domain.VideoRef
	Likes   []domain.VideoRef
	Limit   int
	Debug   bool
}

// LayerStats is the per-layer debug accounting for one request.
type LayerStats struct {
	Layer      domain.Layer `json:"layer"`
	Gathered   int          `json:"gathered"`
	Taken      int          `json:"taken"`
	Underflow  bool         `json:"underflow"`
	StepsTaken int          `json:"steps_taken,omitempty"`
}

// Diagnostics is returned only when the request asked for it.
type Diagnostics struct {
	Profile       string        `json:"profile"`
	SeedsResolved int           `json:"seeds_resolved"`
	SeedsDropped  int           `json:"seeds_dropped"`
	Layers        []LayerStats  `json:"layers"`
	DroppedDenied int           `json:"dropped_denied"`
	DroppedDup    int           `json:"dropped_duplicate"`
	DroppedCapped int           `json:"dropped_capped"`
	Elapsed       time.Duration `json:"elapsed_ms"`
}

// RecommendResult is the ordered batch plus optional diagnostics.
type RecommendResult struct {
	Candidates  []*domain.Candidate
	Diagnostics *Diagnostics
}

// RecommendService orchestrates one request: profile resolution, seed
// resolution, parallel gathering, scoring, mixing.
type RecommendService struct {
	cfg      *config.RecommendConfig
	videos   source.VideoStore
	mapper   *identity.Mapper
	vectors  source.VectorGetter
	sources  map[domain.Layer]source.Source
	denylist DenylistProvider
	seed     RandomSource
	logger   *logger.Logger

	scorers map[string]*scorer.Scorer
}

// NewRecommendService wires the orchestrator. vectors may be nil when the
// index backend cannot serve raw vectors; seed may be nil for a
// time-derived default.
func NewRecommendService(
	cfg *config.RecommendConfig,
	videos source.VideoStore,
	mapper *identity.Mapper,
	vectors source.VectorGetter,
	sources []source.Source,
	denylist DenylistProvider,
	seed RandomSource,
	log *logger.Logger,
) *RecommendService {
	if seed == nil {
		seed = func() int64 { return time.Now().UnixNano() }
	}
	byLayer := make(map[domain.Layer]source.Source, len(sources))
	for _, s := range sources {
		byLayer[s.Layer()] = s
	}
	svc := &RecommendService{
		cfg:      cfg,
		videos:   videos,
		mapper:   mapper,
		vectors:  vectors,
		sources:  byLayer,
		denylist: denylist,
		seed:     seed,
		logger:   log,
		scorers:  make(map[string]*scorer.Scorer, 4),
	}
	for name, profile := range svc.profiles() {
		w := profile.Weights
		svc.scorers[name] = scorer.New(scorer.Weights{
			Similarity:            w.Similarity,
			Freshness:             w.Freshness,
			Popularity:            w.Popularity,
			RepetitionPenalty:     w.RepetitionPenalty,
			FreshnessHalfLifeDays: w.FreshnessHalfLifeDays,
		})
	}
	return svc
}

func (s *RecommendService) profiles() map[string]*config.ProfileConfig {
	p := &s.cfg.Profiles
	return map[string]*config.ProfileConfig{
		"home":               &p.Home,
		"home_guest":         &p.HomeGuest,
		"continuation":       &p.Continuation,
		"continuation_guest": &p.ContinuationGuest,
	}
}

// profileFor resolves the surface/signal pair to a profile name.
func (s *RecommendService) profileFor(surface string, hasSeeds bool) (string, *config.ProfileConfig, error) {
	name := surface
	if !hasSeeds {
		name += "_guest"
	}
	profile, ok := s.profiles()[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: surface %q", ErrBadRequest, surface)
	}
	return name, profile, nil
}

// Recommend produces one ordered batch. Underfull layers and unknown likes
// degrade the result rather than fail it; only invalid input and a cold
// engine error out.
func (s *RecommendService) Recommend(ctx context.Context, req *RecommendRequest) (*RecommendResult, error) {
	started := time.Now()

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	surface := req.Surface
	if surface == "" {
		surface = SurfaceHome
	}
	if surface != SurfaceHome && surface != SurfaceContinuation {
		return nil, fmt.Errorf("%w: surface %q", ErrBadRequest, surface)
	}

	seeds, dropped := s.resolveSeeds(ctx, req.Likes)
	hasLikes := len(seeds) > 0
	if req.Seed != nil {
		// The watch-context seed feeds the similarity layers without
		// flipping the profile off the guest axis.
		if seed, ok := s.resolveRef(ctx, *req.Seed); ok {
			seeds = append(seeds, seed)
		} else {
			dropped++
		}
	}
	profileName, profile, err := s.profileFor(surface, hasLikes)
	if err != nil {
		return nil, err
	}
	score := s.scorers[profileName]

	gatherReq := source.NewRequest(seeds, profile, time.Now(), s.seed())

	pools, err := s.gather(ctx, profile, gatherReq, limit)
	if err != nil {
		return nil, err
	}

	s.hydrate(ctx, pools)
	for _, pool := range pools {
		score.Annotate(pool.Candidates, gatherReq.Now)
	}

	mixed := mixer.New(score).Mix(profile, pools, s.denylist.Denylist(), limit)

	res := &RecommendResult{Candidates: mixed.Candidates}
	if req.Debug {
		res.Diagnostics = s.diagnostics(profileName, pools, mixed, profile, len(seeds), dropped, time.Since(started))
	}

	s.logger.WithFields(logger.Fields{
		logger.FieldProfile:    profileName,
		logger.FieldCount:      len(mixed.Candidates),
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
	}).Debug("batch served")
	return res, nil
}

// resolveSeeds maps likes onto registered identities. Unknown or malformed
// likes are dropped, the request proceeds with the rest.
func (s *RecommendService) resolveSeeds(ctx context.Context, likes []domain.VideoRef) ([]source.Seed, int) {
	if len(likes) > s.cfg.MaxLikes {
		likes = likes[:s.cfg.MaxLikes]
	}
	seeds := make([]source.Seed, 0, len(likes))
	dropped := 0
	for _, ref := range likes {
		seed, ok := s.resolveRef(ctx, ref)
		if !ok {
			dropped++
			continue
		}
		seeds = append(seeds, seed)
	}
	return seeds, dropped
}

// resolveRef maps one reference onto a registered identity, attaching its
// vector when the backend serves vectors.
func (s *RecommendService) resolveRef(ctx context.Context, ref domain.VideoRef) (source.Seed, bool) {
	ref = ref.Normalized()
	if !ref.Valid() {
		return source.Seed{}, false
	}
	annID := identity.AnnID(ref.UUID, ref.Host)
	if _, known := s.mapper.Lookup(annID); !known {
		logger.CtxDebug(ctx, "dropping unknown reference %s", ref.Key())
		return source.Seed{}, false
	}
	seed := source.Seed{Ref: ref, AnnID: annID}
	if s.vectors != nil {
		if vec, ok := s.vectors.Vector(annID); ok {
			seed.Vector = vec
		}
	}
	return seed, true
}

// gather runs the profile's sources concurrently. A failed source drops its
// layer from the batch; only a fully failed gather is an error.
func (s *RecommendService) gather(ctx context.Context, profile *config.ProfileConfig, req *source.Request, limit int) (map[domain.Layer]*domain.Pool, error) {
	type result struct {
		layer domain.Layer
		pool  *domain.Pool
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan result, len(profile.Layers))

	for _, name := range profile.Layers {
		layer := domain.Layer(name)
		src, ok := s.sources[layer]
		if !ok {
			continue
		}
		ratio := profile.GatherRatio[name]
		if ratio <= 0 {
			continue
		}
		n := int(float64(limit)*ratio + 0.5)
		if n == 0 {
			continue
		}
		// Request-scoped rand is not safe for concurrent use; each layer
		// gets a derived copy.
		layerReq := req.Fork()
		g.Go(func() error {
			pool, err := src.Gather(gctx, layerReq, n)
			if err != nil {
				logger.CtxWarn(gctx, "%s gather failed: %v", layer, err)
				return nil
			}
			results <- result{layer: layer, pool: pool}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	pools := make(map[domain.Layer]*domain.Pool)
	for r := range results {
		pools[r.layer] = r.pool
	}
	if len(pools) == 0 {
		return nil, ErrNotReady
	}
	return pools, nil
}

// hydrate fills in video metadata for candidates the index-backed sources
// produced by id only. Candidates whose metadata is gone are dropped.
func (s *RecommendService) hydrate(ctx context.Context, pools map[domain.Layer]*domain.Pool) {
	var missing []uint64
	for _, pool := range pools {
		for _, c := range pool.Candidates {
			if c.Video == nil {
				missing = append(missing, c.AnnID)
			}
		}
	}
	if len(missing) == 0 {
		return
	}
	metas, err := s.videos.GetByAnnIDs(ctx, missing)
	if err != nil {
		logger.CtxWarn(ctx, "hydrate failed: %v", err)
		metas = map[uint64]*domain.Video{}
	}
	for _, pool := range pools {
		kept := pool.Candidates[:0]
		for _, c := range pool.Candidates {
			if c.Video == nil {
				v, ok := metas[c.AnnID]
				if !ok {
					continue
				}
				c.Video = v
			}
			kept = append(kept, c)
		}
		pool.Candidates = kept
	}
}

func (s *RecommendService) diagnostics(profileName string, pools map[domain.Layer]*domain.Pool, mixed *mixer.Result, profile *config.ProfileConfig, seeds, dropped int, elapsed time.Duration) *Diagnostics {
	d := &Diagnostics{
		Profile:       profileName,
		SeedsResolved: seeds,
		SeedsDropped:  dropped,
		DroppedDenied: mixed.DroppedDenied,
		DroppedDup:    mixed.DroppedDup,
		DroppedCapped: mixed.DroppedCapped,
		Elapsed:       elapsed / time.Millisecond,
	}
	for _, name := range profile.Layers {
		layer := domain.Layer(name)
		pool, ok := pools[layer]
		if !ok {
			continue
		}
		d.Layers = append(d.Layers, LayerStats{
			Layer:      layer,
			Gathered:   len(pool.Candidates),
			Taken:      mixed.Taken[layer],
			Underflow:  pool.Underflow,
			StepsTaken: pool.StepsTaken,
		})
	}
	return d
}
