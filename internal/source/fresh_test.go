package source

import (
	"context"
	"testing"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
)

func TestFreshSeededNewestFirst(t *testing.T) {
	svc, rows := buildGeneration(t, 6, 0)
	simCache := emptySimCache(t)
	if err := simCache.Rebuild(context.Background(), svc.Current()); err != nil {
		t.Fatalf("rebuild cache: %v", err)
	}

	store := &fakeStore{videos: map[uint64]*domain.Video{}}
	for i, row := range rows {
		if row.AnnID == 1 {
			continue
		}
		v := testVideo(row.AnnID, 100, 10, time.Duration(i)*24*time.Hour, "author")
		store.videos[row.AnnID] = &v
	}

	profile := testProfile()
	profile.MaxPerAuthor = 0 // single-author fixture, cap off
	fresh := NewFresh(simCache, store, resolverFor(rows))
	req := testRequest(t, profile, Seed{Ref: testRef(1), AnnID: 1})

	pool, err := fresh.Gather(context.Background(), req, 3)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(pool.Candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(pool.Candidates))
	}
	for i := 1; i < len(pool.Candidates); i++ {
		prev, cur := pool.Candidates[i-1], pool.Candidates[i]
		if cur.Video.PublishedAt.After(prev.Video.PublishedAt) {
			t.Fatalf("candidates not in recency order: %v before %v",
				prev.Video.PublishedAt, cur.Video.PublishedAt)
		}
	}
	for _, c := range pool.Candidates {
		if c.AnnID == 1 {
			t.Fatal("seed leaked into fresh pool")
		}
		if c.Similarity == nil {
			t.Fatalf("seeded fresh candidate %d missing similarity", c.AnnID)
		}
	}
}

func TestFreshGuestWindow(t *testing.T) {
	recent := []domain.Video{
		testVideo(10, 50, 5, 24*time.Hour, "alice"),
		testVideo(11, 60, 6, 48*time.Hour, "bob"),
		testVideo(12, 70, 7, 72*time.Hour, "carol"),
	}
	store := &fakeStore{recent: recent}
	fresh := NewFresh(emptySimCache(t), store, nil)

	req := testRequest(t, testProfile())
	pool, err := fresh.Gather(context.Background(), req, 2)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(pool.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(pool.Candidates))
	}
	if pool.Underflow {
		t.Fatal("full pool flagged as underflow")
	}
	for _, c := range pool.Candidates {
		if c.Layer != domain.LayerFresh {
			t.Fatalf("layer = %q", c.Layer)
		}
	}
}

func TestCapAuthors(t *testing.T) {
	mk := func(id uint64, author string) *domain.Candidate {
		v := testVideo(id, 1, 1, time.Hour, author)
		return &domain.Candidate{Ref: v.Ref(), AnnID: id, Video: &v}
	}
	pool := []*domain.Candidate{
		mk(1, "alice"), mk(2, "alice"), mk(3, "alice"), mk(4, "bob"),
	}
	capped := capAuthors(pool, 2)
	if len(capped) != 3 {
		t.Fatalf("got %d candidates after cap, want 3", len(capped))
	}
	authors := map[string]int{}
	for _, c := range capped {
		authors[c.Video.AuthorKey()]++
	}
	for author, n := range authors {
		if n > 2 {
			t.Fatalf("author %s kept %d entries over cap 2", author, n)
		}
	}
}
