package cache

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
)

func buildTestGeneration(t *testing.T, n, dim int, seed int64) *index.Generation {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([]index.VectorRow, n)
	for i := range rows {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
		}
		rows[i] = index.VectorRow{AnnID: uint64(i + 1), Vector: vec}
	}
	gen, err := index.Build(rows, "v1", 1)
	if err != nil {
		t.Fatalf("build generation: %v", err)
	}
	return gen
}

func TestSimilarityRebuildAndLookup(t *testing.T) {
	gen := buildTestGeneration(t, 60, 8, 1)
	path := filepath.Join(t.TempDir(), "similarity.json")
	c := NewSimilarityCache(path, 5, 32)

	if err := c.Rebuild(context.Background(), gen); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	snap := c.Current()
	if snap.Len() != 60 {
		t.Fatalf("snapshot rows = %d, want 60", snap.Len())
	}
	ns, ok := snap.Lookup(1)
	if !ok {
		t.Fatal("source 1 missing from cache")
	}
	if len(ns) != 5 {
		t.Fatalf("neighbor count = %d, want 5", len(ns))
	}
	for _, n := range ns {
		if n.AnnID == 1 {
			t.Error("source listed as its own neighbor")
		}
	}
	for i := 1; i < len(ns); i++ {
		if ns[i].Similarity > ns[i-1].Similarity {
			t.Errorf("neighbors not ordered by similarity")
		}
	}

	// A fresh cache over the same file must see the promoted artifact.
	c2 := NewSimilarityCache(path, 5, 32)
	if err := c2.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if c2.Current().Len() != 60 {
		t.Errorf("reopened snapshot rows = %d, want 60", c2.Current().Len())
	}
}

func TestSimilarityOpenMissingArtifact(t *testing.T) {
	c := NewSimilarityCache(filepath.Join(t.TempDir(), "none.json"), 5, 32)
	if err := c.Open(); err != nil {
		t.Fatalf("open on missing artifact must not fail: %v", err)
	}
	if c.Current() != nil {
		t.Error("snapshot should be nil before first build")
	}
}

// TestSimilarityFailedRebuildKeepsActive asserts the all-or-nothing
// property: a build failing mid-way leaves the active artifact
// byte-identical and the served snapshot unchanged.
func TestSimilarityFailedRebuildKeepsActive(t *testing.T) {
	gen := buildTestGeneration(t, 40, 8, 2)
	path := filepath.Join(t.TempDir(), "similarity.json")
	c := NewSimilarityCache(path, 5, 32)

	if err := c.Rebuild(context.Background(), gen); err != nil {
		t.Fatalf("initial rebuild: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read active artifact: %v", err)
	}
	snapBefore := c.Current()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Rebuild(ctx, gen); err == nil {
		t.Fatal("expected canceled rebuild to fail")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read active artifact after failure: %v", err)
	}
	if string(before) != string(after) {
		t.Error("failed rebuild modified the active artifact")
	}
	if c.Current() != snapBefore {
		t.Error("failed rebuild swapped the served snapshot")
	}

	// No shadow leftovers in the artifact directory.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the active artifact, found %d files", len(entries))
	}
}

func TestSimilarityRebuildScoped(t *testing.T) {
	gen := buildTestGeneration(t, 30, 8, 3)
	path := filepath.Join(t.TempDir(), "similarity.json")
	c := NewSimilarityCache(path, 4, 32)

	if err := c.Rebuild(context.Background(), gen); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// Drop some sources from the live generation; the scoped rebuild must
	// keep only the intersection and reference no removed ann_id.
	gen2 := gen.WithRemoved([]uint64{1, 2, 3, 4, 5}, 2)
	if err := c.RebuildScoped(context.Background(), gen2); err != nil {
		t.Fatalf("scoped rebuild: %v", err)
	}

	snap := c.Current()
	if snap.Len() != 25 {
		t.Fatalf("scoped snapshot rows = %d, want 25", snap.Len())
	}
	for src, ns := range snap.Entries {
		if !gen2.Contains(src) {
			t.Errorf("scoped rebuild kept removed source %d", src)
		}
		for _, n := range ns {
			if !gen2.Contains(n.AnnID) {
				t.Errorf("scoped rebuild kept orphaned neighbor %d", n.AnnID)
			}
		}
	}
}
