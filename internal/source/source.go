// Package source implements the candidate generators. Each source produces
// an unranked pool for one layer plus underflow bookkeeping; scoring and
// global filtering happen downstream.
package source

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/viterin/vek/vek32"

	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
)

// Seed is one resolved like (or continuation seed): its identity, ann_id
// and, when the embedding is locally available, its vector.
type Seed struct {
	Ref    domain.VideoRef
	AnnID  uint64
	Vector []float32
}

// Request carries everything a source needs per call. Profile configuration
// is read-only; Rng is request-scoped so diversity-on-refresh does not
// depend on shared state.
type Request struct {
	Seeds   []Seed
	Profile *config.ProfileConfig
	Now     time.Time
	Rng     *rand.Rand
}

// NewRequest builds a request around a deterministic rand seed.
func NewRequest(seeds []Seed, profile *config.ProfileConfig, now time.Time, rngSeed int64) *Request {
	return &Request{
		Seeds:   seeds,
		Profile: profile,
		Now:     now,
		Rng:     rand.New(rand.NewSource(rngSeed)),
	}
}

// Fork derives an independent request sharing seeds and profile. rand.Rand
// is not safe for concurrent use, so concurrent gathers fork first.
func (r *Request) Fork() *Request {
	return &Request{
		Seeds:   r.Seeds,
		Profile: r.Profile,
		Now:     r.Now,
		Rng:     rand.New(rand.NewSource(r.Rng.Int63())),
	}
}

// HasSeeds reports whether the personalized path applies.
func (r *Request) HasSeeds() bool { return len(r.Seeds) > 0 }

// SeedCentroid returns the normalized mean of the seed vectors, or nil when
// no seed carries a vector.
func (r *Request) SeedCentroid() []float32 {
	var acc []float32
	n := 0
	for _, s := range r.Seeds {
		if len(s.Vector) == 0 {
			continue
		}
		if acc == nil {
			acc = make([]float32, len(s.Vector))
		}
		vek32.Add_Inplace(acc, s.Vector)
		n++
	}
	if n == 0 {
		return nil
	}
	vek32.MulNumber_Inplace(acc, 1/float32(n))
	norm := math.Sqrt(float64(vek32.Dot(acc, acc)))
	if norm > 0 {
		vek32.MulNumber_Inplace(acc, float32(1/norm))
	}
	return acc
}

// SeedSet returns the seed ann_ids as a set, for self-exclusion.
func (r *Request) SeedSet() map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(r.Seeds))
	for _, s := range r.Seeds {
		set[s.AnnID] = struct{}{}
	}
	return set
}

// Source is one candidate generator.
type Source interface {
	Layer() domain.Layer
	// Gather produces up to n candidates. Underflow is data on the pool,
	// not an error; errors are reserved for broken dependencies.
	Gather(ctx context.Context, req *Request, n int) (*domain.Pool, error)
}

// VectorGetter resolves locally stored vectors by ann_id. The remote index
// backend cannot serve this; sources treat a miss as "similarity unknown".
type VectorGetter interface {
	Vector(annID uint64) ([]float32, bool)
}

// VideoStore is the slice of the metadata repository the sources depend on.
type VideoStore interface {
	GetByAnnIDs(ctx context.Context, annIDs []uint64) (map[uint64]*domain.Video, error)
	RecentWindow(ctx context.Context, windowDays, limit int) ([]domain.Video, error)
	MostViewed(ctx context.Context, horizonDays, limit int) ([]domain.Video, error)
}

// similarityTo computes cosine similarity between a candidate's stored
// vector and the seed centroid; ok is false when the vector is unavailable.
func similarityTo(vectors VectorGetter, annID uint64, centroid []float32) (float64, bool) {
	if vectors == nil || len(centroid) == 0 {
		return 0, false
	}
	vec, ok := vectors.Vector(annID)
	if !ok || len(vec) != len(centroid) {
		return 0, false
	}
	// Stored vectors are unit-normalized at build time.
	return float64(vek32.Dot(vec, centroid)), true
}

// dedupAppend appends c unless its identity is already present.
func dedupAppend(pool []*domain.Candidate, seen map[string]struct{}, c *domain.Candidate) []*domain.Candidate {
	key := c.Ref.Key()
	if _, dup := seen[key]; dup {
		return pool
	}
	seen[key] = struct{}{}
	return append(pool, c)
}
