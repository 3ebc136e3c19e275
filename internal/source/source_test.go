package source

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
)

// mapResolver is a Resolver over a fixed id set.
type mapResolver map[uint64]domain.VideoRef

func (m mapResolver) Lookup(annID uint64) (domain.VideoRef, bool) {
	ref, ok := m[annID]
	return ref, ok
}

// fakeStore serves canned metadata without a database.
type fakeStore struct {
	videos map[uint64]*domain.Video
	recent []domain.Video
	top    []domain.Video
}

func (f *fakeStore) GetByAnnIDs(_ context.Context, annIDs []uint64) (map[uint64]*domain.Video, error) {
	out := make(map[uint64]*domain.Video)
	for _, id := range annIDs {
		if v, ok := f.videos[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeStore) RecentWindow(_ context.Context, _, limit int) ([]domain.Video, error) {
	if limit > len(f.recent) {
		limit = len(f.recent)
	}
	return f.recent[:limit], nil
}

func (f *fakeStore) MostViewed(_ context.Context, _, limit int) ([]domain.Video, error) {
	if limit > len(f.top) {
		limit = len(f.top)
	}
	return f.top[:limit], nil
}

func testRef(i uint64) domain.VideoRef {
	return domain.VideoRef{UUID: fmt.Sprintf("00000000-0000-0000-0000-%012d", i), Host: "peertube.example"}
}

func testProfile() *config.ProfileConfig {
	return &config.ProfileConfig{
		MinPool:             8,
		MaxSteps:            3,
		SearchDepth:         4,
		DepthStep:           8,
		SimilarityFloor:     0.9,
		FloorStep:           0.3,
		ExploreBandLow:      0.4,
		ExploreBandHigh:     0.7,
		FreshWindowDays:     14,
		PopularGamma:        2,
		RandomSimilarityCap: 0.6,
		MaxPerAuthor:        3,
	}
}

func testRequest(t *testing.T, profile *config.ProfileConfig, seeds ...Seed) *Request {
	t.Helper()
	return &Request{
		Seeds:   seeds,
		Profile: profile,
		Now:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Rng:     rand.New(rand.NewSource(42)),
	}
}

// buildGeneration indexes one seed vector plus tight and loose neighbors.
// Tight rows sit near cosine 0.995 to the seed, loose rows near 0.55.
func buildGeneration(t *testing.T, tight, loose int) (*index.Service, []index.VectorRow) {
	t.Helper()
	rows := []index.VectorRow{{AnnID: 1, Vector: []float32{1, 0, 0, 0}}}
	id := uint64(2)
	for i := 0; i < tight; i++ {
		rows = append(rows, index.VectorRow{AnnID: id, Vector: []float32{1, 0.1, 0.001 * float32(i), 0}})
		id++
	}
	for i := 0; i < loose; i++ {
		rows = append(rows, index.VectorRow{AnnID: id, Vector: []float32{1, 1.5, 0.001 * float32(i), 0}})
		id++
	}
	gen, err := index.Build(rows, "v1-test", 1)
	if err != nil {
		t.Fatalf("build generation: %v", err)
	}
	svc := index.NewService()
	svc.Promote(gen)
	return svc, rows
}

func resolverFor(rows []index.VectorRow) mapResolver {
	m := make(mapResolver, len(rows))
	for _, r := range rows {
		m[r.AnnID] = testRef(r.AnnID)
	}
	return m
}

func seedFor(svc *index.Service, annID uint64) Seed {
	vec, _ := svc.Vector(annID)
	return Seed{Ref: testRef(annID), AnnID: annID, Vector: vec}
}

func emptySimCache(t *testing.T) *cache.SimilarityCache {
	t.Helper()
	return cache.NewSimilarityCache(filepath.Join(t.TempDir(), "similarity.json"), 10, 50)
}

func TestExploitBroadeningGrowsPool(t *testing.T) {
	svc, rows := buildGeneration(t, 5, 10)
	exploit := NewExploit(emptySimCache(t), svc, resolverFor(rows))

	profile := testProfile()
	profile.MinPool = 12
	req := testRequest(t, profile, seedFor(svc, 1))

	pool, err := exploit.Gather(context.Background(), req, 12)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if pool.StepsTaken == 0 {
		t.Fatal("expected broadening to run")
	}
	if len(pool.Candidates) <= 4 {
		t.Fatalf("broadening did not grow the pool: %d candidates", len(pool.Candidates))
	}
	if pool.Underflow {
		t.Fatalf("pool of %d should satisfy minimum 12", len(pool.Candidates))
	}
	for _, c := range pool.Candidates {
		if c.AnnID == 1 {
			t.Fatal("seed leaked into its own pool")
		}
	}
}

func TestExploitBroadeningTerminates(t *testing.T) {
	svc, rows := buildGeneration(t, 2, 3)
	exploit := NewExploit(emptySimCache(t), svc, resolverFor(rows))

	profile := testProfile()
	profile.MinPool = 500 // unreachable with 5 indexed neighbors
	req := testRequest(t, profile, seedFor(svc, 1))

	pool, err := exploit.Gather(context.Background(), req, 500)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if pool.StepsTaken != profile.MaxSteps {
		t.Fatalf("StepsTaken = %d, want cap %d", pool.StepsTaken, profile.MaxSteps)
	}
	if !pool.Underflow {
		t.Fatal("short pool must be flagged as underflow")
	}
	if len(pool.Candidates) == 0 {
		t.Fatal("short result should still carry what was found")
	}
}

func TestExploitPrefersCache(t *testing.T) {
	svc, rows := buildGeneration(t, 5, 0)
	simCache := emptySimCache(t)
	if err := simCache.Rebuild(context.Background(), svc.Current()); err != nil {
		t.Fatalf("rebuild cache: %v", err)
	}
	// No searcher: anything served must come from the precomputed cache.
	exploit := NewExploit(simCache, nil, resolverFor(rows))

	profile := testProfile()
	profile.MinPool = 3
	req := testRequest(t, profile, Seed{Ref: testRef(1), AnnID: 1})

	pool, err := exploit.Gather(context.Background(), req, 3)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(pool.Candidates) < 3 {
		t.Fatalf("cache-only gather returned %d candidates", len(pool.Candidates))
	}
}

func TestExploreKeepsBandOnly(t *testing.T) {
	svc, rows := buildGeneration(t, 5, 10)
	explore := NewExplore(svc, resolverFor(rows))

	profile := testProfile()
	profile.SearchDepth = 32
	req := testRequest(t, profile, seedFor(svc, 1))

	pool, err := explore.Gather(context.Background(), req, 8)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(pool.Candidates) == 0 {
		t.Fatal("band should catch the loose neighbors")
	}
	for _, c := range pool.Candidates {
		sim := c.SimilarityOrZero()
		if sim < profile.ExploreBandLow || sim >= profile.ExploreBandHigh {
			t.Fatalf("candidate %d similarity %.3f outside band [%.2f, %.2f)",
				c.AnnID, sim, profile.ExploreBandLow, profile.ExploreBandHigh)
		}
		if c.AnnID == 1 {
			t.Fatal("seed leaked into explore pool")
		}
	}
}

func TestGatherEmptyWithoutSeeds(t *testing.T) {
	svc, rows := buildGeneration(t, 3, 3)
	req := testRequest(t, testProfile())

	for _, src := range []Source{
		NewExploit(emptySimCache(t), svc, resolverFor(rows)),
		NewExplore(svc, resolverFor(rows)),
	} {
		pool, err := src.Gather(context.Background(), req, 10)
		if err != nil {
			t.Fatalf("%s gather: %v", src.Layer(), err)
		}
		if len(pool.Candidates) != 0 {
			t.Fatalf("%s produced %d candidates without seeds", src.Layer(), len(pool.Candidates))
		}
	}
}
