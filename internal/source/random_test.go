package source

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
)

func TestRandomExcludesSeedsAndNearDuplicates(t *testing.T) {
	svc, rows := buildGeneration(t, 5, 10)

	pool := cache.NewRandomPool(filepath.Join(t.TempDir(), "random.json"), cache.RandomPoolConfig{
		MaxSize:        1000,
		MaxPerAuthor:   1000,
		MaxPerInstance: 1000,
	})
	lookup := func(annID uint64) (cache.PoolMeta, bool) {
		ref, ok := resolverFor(rows).Lookup(annID)
		if !ok {
			return cache.PoolMeta{}, false
		}
		return cache.PoolMeta{Author: ref.UUID, Host: ref.Host}, true
	}
	rng := rand.New(rand.NewSource(7))
	if err := pool.Rebuild(context.Background(), svc.Current(), lookup, rng); err != nil {
		t.Fatalf("rebuild pool: %v", err)
	}

	store := &fakeStore{videos: map[uint64]*domain.Video{}}
	for _, row := range rows {
		v := testVideo(row.AnnID, 10, 1, 24*time.Hour, "author")
		store.videos[row.AnnID] = &v
	}

	random := NewRandom(pool, store, svc)
	profile := testProfile()
	profile.MaxPerAuthor = 0
	req := testRequest(t, profile, seedFor(svc, 1))

	got, err := random.Gather(context.Background(), req, 8)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(got.Candidates) == 0 {
		t.Fatal("random pool produced nothing")
	}
	for _, c := range got.Candidates {
		if c.AnnID == 1 {
			t.Fatal("seed leaked into random pool")
		}
		// Tight neighbors sit near cosine 0.995, over the 0.6 cap; only
		// the loose cluster may appear.
		if c.Similarity != nil && *c.Similarity > profile.RandomSimilarityCap {
			t.Fatalf("candidate %d similarity %.3f over cap", c.AnnID, *c.Similarity)
		}
	}
}

func TestRandomGuestDrawsUniform(t *testing.T) {
	svc, rows := buildGeneration(t, 5, 10)
	pool := cache.NewRandomPool(filepath.Join(t.TempDir(), "random.json"), cache.RandomPoolConfig{
		MaxSize:        1000,
		MaxPerAuthor:   1000,
		MaxPerInstance: 1000,
	})
	lookup := func(annID uint64) (cache.PoolMeta, bool) {
		return cache.PoolMeta{Author: "author", Host: "peertube.example"}, true
	}
	if err := pool.Rebuild(context.Background(), svc.Current(), lookup, rand.New(rand.NewSource(7))); err != nil {
		t.Fatalf("rebuild pool: %v", err)
	}

	store := &fakeStore{videos: map[uint64]*domain.Video{}}
	for _, row := range rows {
		v := testVideo(row.AnnID, 10, 1, 24*time.Hour, "author")
		store.videos[row.AnnID] = &v
	}
	random := NewRandom(pool, store, nil)

	req := testRequest(t, testProfile())
	req.Profile.MaxPerAuthor = 0
	got, err := random.Gather(context.Background(), req, 5)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(got.Candidates) != 5 {
		t.Fatalf("got %d candidates, want 5", len(got.Candidates))
	}
	seen := map[uint64]struct{}{}
	for _, c := range got.Candidates {
		if _, dup := seen[c.AnnID]; dup {
			t.Fatalf("candidate %d drawn twice", c.AnnID)
		}
		seen[c.AnnID] = struct{}{}
	}
}

func TestRandomEmptyPool(t *testing.T) {
	pool := cache.NewRandomPool(filepath.Join(t.TempDir(), "random.json"), cache.RandomPoolConfig{MaxSize: 10})
	random := NewRandom(pool, &fakeStore{}, nil)
	req := testRequest(t, testProfile())

	got, err := random.Gather(context.Background(), req, 5)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(got.Candidates) != 0 || !got.Underflow {
		t.Fatalf("empty pool should underflow, got %d candidates", len(got.Candidates))
	}
}
