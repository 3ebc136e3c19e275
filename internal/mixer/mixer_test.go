package mixer

import (
	"fmt"
	"testing"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/scorer"
)

func testProfile() *config.ProfileConfig {
	return &config.ProfileConfig{
		Layers:        []string{"exploit", "explore", "fresh", "popular", "random"},
		MixRatio:      map[string]float64{"exploit": 0.5, "explore": 0.2, "fresh": 0.1, "popular": 0.1, "random": 0.1},
		FallbackOrder: []string{"exploit", "popular", "random", "fresh", "explore"},
		MaxPerAuthor:   2,
		MaxPerInstance: 10,
		Weights: config.WeightsConfig{
			Similarity: 1, Freshness: 0.3, Popularity: 0.3, RepetitionPenalty: 0.2,
		},
	}
}

func testMixer() *Mixer {
	return New(scorer.New(scorer.Weights{
		Similarity: 1, Freshness: 0.3, Popularity: 0.3, RepetitionPenalty: 0.2,
	}))
}

func candidate(layer domain.Layer, i int, score float64, author, host string) *domain.Candidate {
	uuid := fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
	return &domain.Candidate{
		Ref:   domain.VideoRef{UUID: uuid, Host: host},
		AnnID: uint64(i),
		Video: &domain.Video{
			UUID: uuid, Host: host, AnnID: uint64(i),
			ChannelName: author, ChannelHost: host,
			PublishedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		Score: score,
		Layer: layer,
	}
}

func poolOf(layer domain.Layer, cs ...*domain.Candidate) *domain.Pool {
	return &domain.Pool{Layer: layer, Candidates: cs}
}

func TestMixQuotasAndOrder(t *testing.T) {
	pools := map[domain.Layer]*domain.Pool{
		domain.LayerExploit: poolOf(domain.LayerExploit,
			candidate(domain.LayerExploit, 1, 0.9, "a1", "h1"),
			candidate(domain.LayerExploit, 2, 0.8, "a2", "h1"),
			candidate(domain.LayerExploit, 3, 0.7, "a3", "h2"),
			candidate(domain.LayerExploit, 4, 0.6, "a4", "h2"),
		),
		domain.LayerExplore: poolOf(domain.LayerExplore,
			candidate(domain.LayerExplore, 5, 0.5, "a5", "h3"),
			candidate(domain.LayerExplore, 6, 0.4, "a6", "h3"),
		),
		domain.LayerPopular: poolOf(domain.LayerPopular,
			candidate(domain.LayerPopular, 7, 0.3, "a7", "h4"),
		),
		domain.LayerRandom: poolOf(domain.LayerRandom,
			candidate(domain.LayerRandom, 8, 0.1, "a8", "h5"),
		),
	}

	res := testMixer().Mix(testProfile(), pools, nil, 8)
	if len(res.Candidates) != 8 {
		t.Fatalf("batch size %d, want 8", len(res.Candidates))
	}
	if res.Taken[domain.LayerExploit] != 4 {
		t.Fatalf("exploit placed %d, want all 4", res.Taken[domain.LayerExploit])
	}
	// No fresh entries here, so the order is strictly score descending.
	for i := 1; i < len(res.Candidates); i++ {
		if res.Candidates[i].Score > res.Candidates[i-1].Score {
			t.Fatalf("batch not score ordered at %d", i)
		}
	}
}

func TestMixFallbackFillsShortLayers(t *testing.T) {
	// Only exploit has inventory; the fallback order must let it fill the
	// whole batch despite its 50% mix ratio.
	var cs []*domain.Candidate
	for i := 0; i < 12; i++ {
		cs = append(cs, candidate(domain.LayerExploit, i+1, 1-float64(i)*0.05,
			fmt.Sprintf("a%d", i), fmt.Sprintf("h%d", i)))
	}
	pools := map[domain.Layer]*domain.Pool{domain.LayerExploit: poolOf(domain.LayerExploit, cs...)}

	res := testMixer().Mix(testProfile(), pools, nil, 10)
	if len(res.Candidates) != 10 {
		t.Fatalf("batch size %d, want 10", len(res.Candidates))
	}
}

func TestMixShortCorpusShrinksBatch(t *testing.T) {
	pools := map[domain.Layer]*domain.Pool{
		domain.LayerExploit: poolOf(domain.LayerExploit,
			candidate(domain.LayerExploit, 1, 0.9, "a1", "h1"),
		),
	}
	res := testMixer().Mix(testProfile(), pools, nil, 24)
	if len(res.Candidates) != 1 {
		t.Fatalf("batch size %d, want 1", len(res.Candidates))
	}
}

func TestMixDenylistBeforeCaps(t *testing.T) {
	deny := domain.NewDenylist([]string{"banned.example"}, []string{"spammer@h1"})
	pools := map[domain.Layer]*domain.Pool{
		domain.LayerExploit: poolOf(domain.LayerExploit,
			candidate(domain.LayerExploit, 1, 0.9, "spammer", "h1"),
			candidate(domain.LayerExploit, 2, 0.8, "ok", "banned.example"),
			candidate(domain.LayerExploit, 3, 0.7, "ok", "h2"),
		),
	}
	res := testMixer().Mix(testProfile(), pools, deny, 10)
	if len(res.Candidates) != 1 || res.Candidates[0].AnnID != 3 {
		t.Fatalf("denylist filtering failed: %+v", res.Candidates)
	}
	if res.DroppedDenied != 2 {
		t.Fatalf("DroppedDenied = %d, want 2", res.DroppedDenied)
	}
}

func TestMixDedupAcrossLayers(t *testing.T) {
	dup := candidate(domain.LayerExplore, 1, 0.5, "a1", "h1")
	pools := map[domain.Layer]*domain.Pool{
		domain.LayerExploit: poolOf(domain.LayerExploit,
			candidate(domain.LayerExploit, 1, 0.9, "a1", "h1"),
		),
		domain.LayerExplore: poolOf(domain.LayerExplore, dup),
	}
	res := testMixer().Mix(testProfile(), pools, nil, 10)
	if len(res.Candidates) != 1 {
		t.Fatalf("dedup kept %d entries", len(res.Candidates))
	}
	if res.Candidates[0].Layer != domain.LayerExploit {
		t.Fatal("dedup must keep the higher scored copy")
	}
	if res.DroppedDup != 1 {
		t.Fatalf("DroppedDup = %d, want 1", res.DroppedDup)
	}
}

func TestMixTopsUpFilterLosses(t *testing.T) {
	// The explore copy of video 1 duplicates the exploit pick; the batch
	// must refill from the explore leftovers instead of coming up short.
	pools := map[domain.Layer]*domain.Pool{
		domain.LayerExploit: poolOf(domain.LayerExploit,
			candidate(domain.LayerExploit, 1, 0.9, "a1", "h1"),
		),
		domain.LayerExplore: poolOf(domain.LayerExplore,
			candidate(domain.LayerExplore, 1, 0.5, "a1", "h1"),
			candidate(domain.LayerExplore, 2, 0.4, "a2", "h2"),
		),
	}
	res := testMixer().Mix(testProfile(), pools, nil, 2)
	if len(res.Candidates) != 2 {
		t.Fatalf("batch size %d, want 2", len(res.Candidates))
	}
	if res.DroppedDup != 1 {
		t.Fatalf("DroppedDup = %d, want 1", res.DroppedDup)
	}
	if res.Candidates[1].AnnID != 2 {
		t.Fatalf("top-up did not admit the remaining candidate: %+v", res.Candidates)
	}
}

func TestMixAuthorCapAndRepeatAnnotation(t *testing.T) {
	pools := map[domain.Layer]*domain.Pool{
		domain.LayerExploit: poolOf(domain.LayerExploit,
			candidate(domain.LayerExploit, 1, 0.9, "prolific", "h1"),
			candidate(domain.LayerExploit, 2, 0.8, "prolific", "h1"),
			candidate(domain.LayerExploit, 3, 0.7, "prolific", "h1"),
			candidate(domain.LayerExploit, 4, 0.6, "other", "h2"),
		),
	}
	res := testMixer().Mix(testProfile(), pools, nil, 10)
	if len(res.Candidates) != 3 {
		t.Fatalf("author cap kept %d entries, want 3", len(res.Candidates))
	}
	if res.DroppedCapped != 1 {
		t.Fatalf("DroppedCapped = %d, want 1", res.DroppedCapped)
	}
	repeats := map[uint64]int{}
	for _, c := range res.Candidates {
		repeats[c.AnnID] = c.AuthorRepeat
	}
	if repeats[1] != 0 || repeats[2] != 1 {
		t.Fatalf("AuthorRepeat annotation wrong: %v", repeats)
	}
}

func TestMixSpreadsFreshEntries(t *testing.T) {
	pools := map[domain.Layer]*domain.Pool{
		domain.LayerExploit: poolOf(domain.LayerExploit,
			candidate(domain.LayerExploit, 1, 0.9, "a1", "h1"),
			candidate(domain.LayerExploit, 2, 0.85, "a2", "h1"),
			candidate(domain.LayerExploit, 3, 0.8, "a3", "h2"),
			candidate(domain.LayerExploit, 4, 0.75, "a4", "h2"),
			candidate(domain.LayerExploit, 5, 0.7, "a5", "h3"),
			candidate(domain.LayerExploit, 6, 0.65, "a6", "h3"),
		),
		domain.LayerFresh: poolOf(domain.LayerFresh,
			candidate(domain.LayerFresh, 7, 0.99, "f1", "h4"),
			candidate(domain.LayerFresh, 8, 0.98, "f2", "h4"),
		),
	}
	profile := testProfile()
	profile.MixRatio = map[string]float64{"exploit": 0.75, "fresh": 0.25}

	res := testMixer().Mix(profile, pools, nil, 8)
	if len(res.Candidates) != 8 {
		t.Fatalf("batch size %d, want 8", len(res.Candidates))
	}
	var freshPos []int
	for i, c := range res.Candidates {
		if c.Layer == domain.LayerFresh {
			freshPos = append(freshPos, i)
		}
	}
	if len(freshPos) != 2 {
		t.Fatalf("fresh entries in batch: %d, want 2", len(freshPos))
	}
	// Spread: the two fresh entries must not occupy the first two slots
	// even though they carry the top scores.
	if freshPos[0] == 0 && freshPos[1] == 1 {
		t.Fatalf("fresh entries clustered at head: %v", freshPos)
	}
	if freshPos[1]-freshPos[0] < 2 {
		t.Fatalf("fresh entries adjacent: %v", freshPos)
	}
}
