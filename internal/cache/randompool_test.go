package cache

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
)

func TestRandomPoolRebuildAppliesCaps(t *testing.T) {
	gen := buildTestGeneration(t, 100, 8, 4)
	path := filepath.Join(t.TempDir(), "randompool.json")
	p := NewRandomPool(path, RandomPoolConfig{
		MaxSize:        50,
		MaxPerAuthor:   2,
		MaxPerInstance: 10,
	})

	// 10 authors across 5 hosts.
	lookup := func(annID uint64) (PoolMeta, bool) {
		return PoolMeta{
			Author: fmt.Sprintf("author-%d", annID%10),
			Host:   fmt.Sprintf("host-%d.example", annID%5),
		}, true
	}

	rng := rand.New(rand.NewSource(1))
	if err := p.Rebuild(context.Background(), gen, lookup, rng); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	snap := p.Current()
	if snap.Len() == 0 {
		t.Fatal("empty pool")
	}
	perAuthor := make(map[string]int)
	perHost := make(map[string]int)
	for _, id := range snap.IDs {
		meta, _ := lookup(id)
		perAuthor[meta.Author]++
		perHost[meta.Host]++
	}
	for a, n := range perAuthor {
		if n > 2 {
			t.Errorf("author %s has %d entries, cap 2", a, n)
		}
	}
	for h, n := range perHost {
		if n > 10 {
			t.Errorf("host %s has %d entries, cap 10", h, n)
		}
	}
}

func TestRandomPoolSample(t *testing.T) {
	snap := &RandomPoolSnapshot{IDs: []uint64{1, 2, 3, 4, 5, 6, 7, 8}}
	rng := rand.New(rand.NewSource(2))

	got := snap.Sample(rng, 5)
	if len(got) != 5 {
		t.Fatalf("sample size = %d, want 5", len(got))
	}
	seen := make(map[uint64]struct{})
	for _, id := range got {
		if _, dup := seen[id]; dup {
			t.Errorf("duplicate id %d in sample", id)
		}
		seen[id] = struct{}{}
	}

	// Asking for more than the pool holds returns the whole pool.
	if got := snap.Sample(rng, 100); len(got) != 8 {
		t.Errorf("oversized sample = %d, want 8", len(got))
	}
}

func TestRandomPoolOpenRoundTrip(t *testing.T) {
	gen := buildTestGeneration(t, 20, 8, 5)
	path := filepath.Join(t.TempDir(), "randompool.json")
	p := NewRandomPool(path, RandomPoolConfig{MaxSize: 20})

	lookup := func(annID uint64) (PoolMeta, bool) {
		return PoolMeta{Author: "a", Host: "h"}, true
	}
	// No caps configured: everything fits.
	if err := p.Rebuild(context.Background(), gen, lookup, rand.New(rand.NewSource(3))); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	p2 := NewRandomPool(path, RandomPoolConfig{MaxSize: 20})
	if err := p2.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if p2.Current().Len() != p.Current().Len() {
		t.Errorf("reopened pool size %d, want %d", p2.Current().Len(), p.Current().Len())
	}
}
