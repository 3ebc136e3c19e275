package index

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

func testRows(n, dim int, seed int64) []VectorRow {
	rng := rand.New(rand.NewSource(seed))
	rows := make([]VectorRow, n)
	for i := range rows {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
		}
		rows[i] = VectorRow{AnnID: uint64(i + 1), Vector: vec}
	}
	return rows
}

func TestBuildAndSearch(t *testing.T) {
	rows := testRows(200, 16, 1)
	g, err := Build(rows, "v1", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Len() != 200 {
		t.Fatalf("Len = %d, want 200", g.Len())
	}

	// Querying with a stored vector must return that vector first with
	// similarity ~1.
	query := rows[42].Vector
	hits, err := g.Search(query, 10, 64)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 10 {
		t.Fatalf("got %d hits, want 10", len(hits))
	}
	if hits[0].AnnID != rows[42].AnnID {
		t.Errorf("top hit = %d, want %d", hits[0].AnnID, rows[42].AnnID)
	}
	if math.Abs(hits[0].Score-1) > 1e-4 {
		t.Errorf("self-similarity = %f, want ~1", hits[0].Score)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not ordered: %f after %f", hits[i].Score, hits[i-1].Score)
		}
	}
}

func TestBuildRejectsDuplicates(t *testing.T) {
	rows := testRows(3, 8, 2)
	rows[2].AnnID = rows[0].AnnID
	if _, err := Build(rows, "v1", 1); err == nil {
		t.Fatal("expected duplicate ann_id to fail the build")
	}
}

func TestBuildRejectsDimMismatch(t *testing.T) {
	rows := testRows(3, 8, 3)
	rows[1].Vector = rows[1].Vector[:4]
	if _, err := Build(rows, "v1", 1); err == nil {
		t.Fatal("expected dimension mismatch to fail the build")
	}
}

func TestWithRemovedTombstones(t *testing.T) {
	rows := testRows(50, 8, 4)
	g, err := Build(rows, "v1", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	removed := []uint64{1, 2, 3}
	g2 := g.WithRemoved(removed, 2)
	if g2.Len() != 47 {
		t.Fatalf("Len after remove = %d, want 47", g2.Len())
	}
	// Old generation is untouched.
	if g.Len() != 50 {
		t.Fatalf("previous generation mutated: Len = %d", g.Len())
	}

	hits, err := g2.Search(rows[0].Vector, 50, 200)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		for _, dead := range removed {
			if h.AnnID == dead {
				t.Errorf("search returned tombstoned ann_id %d", dead)
			}
		}
	}
}

func TestWithRemovedCompacts(t *testing.T) {
	rows := testRows(40, 8, 5)
	g, err := Build(rows, "v1", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Remove over 25% of rows to cross the compaction threshold.
	dead := make([]uint64, 0, 15)
	for id := uint64(1); id <= 15; id++ {
		dead = append(dead, id)
	}
	g2 := g.WithRemoved(dead, 2)
	if g2.Len() != 25 {
		t.Fatalf("Len after compacting remove = %d, want 25", g2.Len())
	}
	if len(g2.tombstones) != 0 {
		t.Errorf("compaction left %d tombstones", len(g2.tombstones))
	}
}

func TestWithAddedReplacesVector(t *testing.T) {
	rows := testRows(10, 8, 6)
	g, err := Build(rows, "v1", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	replacement := testRows(1, 8, 99)[0]
	replacement.AnnID = rows[0].AnnID
	g2, err := g.WithAdded([]VectorRow{replacement}, 2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if g2.Len() != 10 {
		t.Fatalf("Len = %d, want 10", g2.Len())
	}
	hits, err := g2.Search(replacement.Vector, 1, 16)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits[0].AnnID != replacement.AnnID {
		t.Errorf("replaced vector not findable: top hit %d", hits[0].AnnID)
	}
}

func TestServicePromoteSwap(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	if _, err := svc.Search(ctx, make([]float32, 8), 5, 16); err != ErrNotBuilt {
		t.Fatalf("expected ErrNotBuilt before promote, got %v", err)
	}

	rows := testRows(20, 8, 7)
	g, err := Build(rows, "v1", svc.NextSequence())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	svc.Promote(g)

	hits, err := svc.Search(ctx, rows[3].Vector, 5, 16)
	if err != nil {
		t.Fatalf("search after promote: %v", err)
	}
	if hits[0].AnnID != rows[3].AnnID {
		t.Errorf("top hit = %d, want %d", hits[0].AnnID, rows[3].AnnID)
	}

	// A reader holding the old handle keeps a consistent snapshot across a
	// promote.
	old := svc.Current()
	g2 := g.WithRemoved([]uint64{rows[3].AnnID}, svc.NextSequence())
	svc.Promote(g2)
	if !old.Contains(rows[3].AnnID) {
		t.Error("captured generation changed under the reader")
	}
	if svc.Contains(rows[3].AnnID) {
		t.Error("new generation still contains removed ann_id")
	}
}
