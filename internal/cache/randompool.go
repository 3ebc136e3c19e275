package cache

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
)

// PoolMeta is a candidate's diversity attributes at pool-build time.
type PoolMeta struct {
	Author string
	Host   string
}

// MetaLookup resolves diversity attributes for an ann_id. The builder
// skips ids it cannot resolve.
type MetaLookup func(annID uint64) (PoolMeta, bool)

// RandomPoolSnapshot is the immutable in-memory form of the random-pool
// artifact: an unordered bag of ann_ids that satisfied the diversity
// filter at build time.
type RandomPoolSnapshot struct {
	BuiltAt time.Time `json:"built_at"`
	IDs     []uint64  `json:"ids"`
}

// Len reports the pool size.
func (s *RandomPoolSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.IDs)
}

// Sample draws up to n distinct ids from the pool using rng.
func (s *RandomPoolSnapshot) Sample(rng *rand.Rand, n int) []uint64 {
	if s == nil || n <= 0 {
		return nil
	}
	if n >= len(s.IDs) {
		out := append([]uint64(nil), s.IDs...)
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	// Partial Fisher-Yates over a copy.
	out := append([]uint64(nil), s.IDs...)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:n]
}

// RandomPoolConfig bounds the pool and its diversity.
type RandomPoolConfig struct {
	MaxSize        int
	MaxPerAuthor   int
	MaxPerInstance int
}

// RandomPool serves the active random-pool snapshot and runs its refresh.
type RandomPool struct {
	path    string
	cfg     RandomPoolConfig
	current atomic.Pointer[RandomPoolSnapshot]
}

// NewRandomPool creates the pool around its artifact path.
func NewRandomPool(path string, cfg RandomPoolConfig) *RandomPool {
	return &RandomPool{path: path, cfg: cfg}
}

// Path returns the active artifact location.
func (p *RandomPool) Path() string { return p.path }

// Current returns the active snapshot, nil before the first load or build.
func (p *RandomPool) Current() *RandomPoolSnapshot {
	return p.current.Load()
}

// Open loads the active artifact if present; a missing file is not an
// error at startup.
func (p *RandomPool) Open() error {
	var snap RandomPoolSnapshot
	if err := readArtifact(p.path, &snap); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	p.current.Store(&snap)
	return nil
}

// Rebuild draws a fresh diversity-filtered pool from the live generation,
// then shadow-writes, validates, promotes and swaps. The walk order is
// shuffled so caps do not always evict the same videos.
func (p *RandomPool) Rebuild(ctx context.Context, gen *index.Generation, lookup MetaLookup, rng *rand.Rand) error {
	ids := gen.IDs()
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	perAuthor := make(map[string]int)
	perHost := make(map[string]int)
	picked := make([]uint64, 0, p.cfg.MaxSize)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(picked) == p.cfg.MaxSize {
			break
		}
		meta, ok := lookup(id)
		if !ok {
			continue
		}
		if p.cfg.MaxPerAuthor > 0 && perAuthor[meta.Author] >= p.cfg.MaxPerAuthor {
			continue
		}
		if p.cfg.MaxPerInstance > 0 && perHost[meta.Host] >= p.cfg.MaxPerInstance {
			continue
		}
		perAuthor[meta.Author]++
		perHost[meta.Host]++
		picked = append(picked, id)
	}

	snap := &RandomPoolSnapshot{BuiltAt: time.Now().UTC(), IDs: picked}
	if err := validateRandomPool(snap, gen); err != nil {
		return err
	}

	shadow, err := writeShadow(p.path, snap)
	if err != nil {
		return err
	}
	if err := promoteShadow(shadow, p.path); err != nil {
		return err
	}
	p.current.Store(snap)
	return nil
}

func validateRandomPool(snap *RandomPoolSnapshot, gen *index.Generation) error {
	seen := make(map[uint64]struct{}, len(snap.IDs))
	for _, id := range snap.IDs {
		if _, dup := seen[id]; dup {
			return &ErrValidation{Artifact: "random-pool", Reason: fmt.Sprintf("duplicate ann_id %d", id)}
		}
		seen[id] = struct{}{}
		if !gen.Contains(id) {
			return &ErrValidation{Artifact: "random-pool", Reason: fmt.Sprintf("orphaned ann_id %d", id)}
		}
	}
	return nil
}
