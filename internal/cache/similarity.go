package cache

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
)

// Neighbor is one precomputed similar video.
type Neighbor struct {
	AnnID      uint64  `json:"ann_id"`
	Similarity float64 `json:"similarity"`
}

// SimilaritySnapshot is the immutable in-memory form of the similarity
// artifact: source ann_id to its top-K most similar videos.
type SimilaritySnapshot struct {
	BuiltAt time.Time             `json:"built_at"`
	K       int                   `json:"k"`
	Entries map[uint64][]Neighbor `json:"entries"`
}

// Lookup returns the precomputed neighbors of a source video.
func (s *SimilaritySnapshot) Lookup(source uint64) ([]Neighbor, bool) {
	if s == nil {
		return nil, false
	}
	ns, ok := s.Entries[source]
	return ns, ok
}

// Len reports the number of cached sources.
func (s *SimilaritySnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// SimilarityCache serves the active similarity snapshot and runs the
// shadow-build/promote refresh. Request-path reads only touch the atomic
// snapshot pointer.
type SimilarityCache struct {
	path    string
	k       int
	depth   int
	current atomic.Pointer[SimilaritySnapshot]
}

// NewSimilarityCache creates the cache around its artifact path. K is the
// neighbor list size, depth the ANN search depth used at build time.
func NewSimilarityCache(path string, k, depth int) *SimilarityCache {
	return &SimilarityCache{path: path, k: k, depth: depth}
}

// Path returns the active artifact location.
func (c *SimilarityCache) Path() string { return c.path }

// Current returns the active snapshot, nil when none was loaded or built
// yet. Callers holding the returned pointer keep a consistent view across
// a concurrent promote.
func (c *SimilarityCache) Current() *SimilaritySnapshot {
	return c.current.Load()
}

// Open loads the active artifact from disk if it exists. Startup calls
// this and proceeds regardless; a missing artifact only means degraded
// serving until the first refresh lands.
func (c *SimilarityCache) Open() error {
	var snap SimilaritySnapshot
	if err := readArtifact(c.path, &snap); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c.current.Store(&snap)
	return nil
}

// Rebuild computes a full snapshot over every live source in gen, writes
// it as a shadow, validates, promotes and swaps the in-memory pointer. On
// any failure the active artifact and snapshot stay exactly as they were.
func (c *SimilarityCache) Rebuild(ctx context.Context, gen *index.Generation) error {
	return c.rebuild(ctx, gen, gen.IDs())
}

// RebuildScoped rewrites only sources already present in the cache,
// intersected with the live generation. Cheaper than a full rebuild on
// routine refresh cycles; new videos are only picked up by Rebuild.
func (c *SimilarityCache) RebuildScoped(ctx context.Context, gen *index.Generation) error {
	snap := c.current.Load()
	if snap == nil {
		return c.Rebuild(ctx, gen)
	}
	sources := make([]uint64, 0, len(snap.Entries))
	for id := range snap.Entries {
		if gen.Contains(id) {
			sources = append(sources, id)
		}
	}
	return c.rebuild(ctx, gen, sources)
}

func (c *SimilarityCache) rebuild(ctx context.Context, gen *index.Generation, sources []uint64) error {
	snap := &SimilaritySnapshot{
		BuiltAt: time.Now().UTC(),
		K:       c.k,
		Entries: make(map[uint64][]Neighbor, len(sources)),
	}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, ok := gen.Vector(src)
		if !ok {
			// Source lost its embedding since the id list was taken;
			// per the eligibility invariant it simply drops out.
			continue
		}
		hits, err := gen.Search(vec, c.k+1, c.depth)
		if err != nil {
			return fmt.Errorf("similarity build for %d: %w", src, err)
		}
		neighbors := make([]Neighbor, 0, c.k)
		for _, h := range hits {
			if h.AnnID == src {
				continue
			}
			neighbors = append(neighbors, Neighbor{AnnID: h.AnnID, Similarity: h.Score})
			if len(neighbors) == c.k {
				break
			}
		}
		snap.Entries[src] = neighbors
	}

	if err := validateSimilarity(snap, gen, len(sources)); err != nil {
		return err
	}

	shadow, err := writeShadow(c.path, snap)
	if err != nil {
		return err
	}
	if err := promoteShadow(shadow, c.path); err != nil {
		return err
	}
	c.current.Store(snap)
	return nil
}

func validateSimilarity(snap *SimilaritySnapshot, gen *index.Generation, wantRows int) error {
	if len(snap.Entries) > wantRows {
		return &ErrValidation{Artifact: "similarity", Reason: fmt.Sprintf("row count %d exceeds source count %d", len(snap.Entries), wantRows)}
	}
	for src, ns := range snap.Entries {
		if !gen.Contains(src) {
			return &ErrValidation{Artifact: "similarity", Reason: fmt.Sprintf("orphaned source %d", src)}
		}
		for _, n := range ns {
			if !gen.Contains(n.AnnID) {
				return &ErrValidation{Artifact: "similarity", Reason: fmt.Sprintf("entry %d references removed ann_id %d", src, n.AnnID)}
			}
			if n.AnnID == src {
				return &ErrValidation{Artifact: "similarity", Reason: fmt.Sprintf("entry %d lists itself", src)}
			}
		}
	}
	return nil
}
