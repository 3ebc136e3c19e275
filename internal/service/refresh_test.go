package service

import (
	"fmt"
	"testing"

	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/identity"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/repository"
)

func refresherFixture(t *testing.T) *Refresher {
	t.Helper()
	cfg := &config.Config{}
	cfg.Index.SchemeVersion = "v1-test"
	cfg.Index.Dim = 4
	return NewRefresher(cfg, nil, nil, nil,
		identity.NewMapper(nil), index.NewService(), nil, nil, nil, nil,
		logger.New(nil))
}

func rowFor(i uint64) index.VectorRow {
	return index.VectorRow{AnnID: i, Vector: []float32{1, float32(i) * 0.1, 0, 0}}
}

func TestNextGenerationFullBuild(t *testing.T) {
	r := refresherFixture(t)
	rows := []index.VectorRow{rowFor(1), rowFor(2), rowFor(3)}

	gen, err := r.nextGeneration(rows, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if gen.Len() != 3 {
		t.Fatalf("generation size %d, want 3", gen.Len())
	}
	if gen.Meta().SchemeVersion != "v1-test" {
		t.Fatalf("scheme version %q", gen.Meta().SchemeVersion)
	}
}

func TestNextGenerationScopedDelta(t *testing.T) {
	r := refresherFixture(t)
	initial, err := r.nextGeneration([]index.VectorRow{rowFor(1), rowFor(2), rowFor(3)}, false)
	if err != nil {
		t.Fatalf("initial build: %v", err)
	}
	r.index.Promote(initial)

	// Row 3 disappears, row 4 arrives.
	gen, err := r.nextGeneration([]index.VectorRow{rowFor(1), rowFor(2), rowFor(4)}, true)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if gen.Len() != 3 {
		t.Fatalf("generation size %d, want 3", gen.Len())
	}
	if gen.Contains(3) {
		t.Fatal("removed row still present")
	}
	if !gen.Contains(4) {
		t.Fatal("added row missing")
	}
	if gen.Meta().Sequence <= initial.Meta().Sequence {
		t.Fatal("delta generation did not advance the sequence")
	}
}

func TestNextGenerationScopedFallsBackOnSchemeChange(t *testing.T) {
	r := refresherFixture(t)
	initial, err := r.nextGeneration([]index.VectorRow{rowFor(1), rowFor(2)}, false)
	if err != nil {
		t.Fatalf("initial build: %v", err)
	}
	r.index.Promote(initial)
	r.cfg.Index.SchemeVersion = "v2-test"

	gen, err := r.nextGeneration([]index.VectorRow{rowFor(1), rowFor(2)}, true)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if gen.Meta().SchemeVersion != "v2-test" {
		t.Fatalf("scoped cycle kept stale scheme %q", gen.Meta().SchemeVersion)
	}
}

func TestRegisterAndFilter(t *testing.T) {
	r := refresherFixture(t)

	refs := map[uint64]domain.VideoRef{}
	meta := map[uint64]repository.AuthorMeta{}
	rows := make([]index.VectorRow, 0, 4)
	for i := uint64(1); i <= 4; i++ {
		rows = append(rows, rowFor(i))
		refs[i] = domain.VideoRef{UUID: fmt.Sprintf("00000000-0000-0000-0000-%012d", i), Host: "a.example"}
		meta[i] = repository.AuthorMeta{
			AnnID: i, Host: "a.example",
			ChannelName: fmt.Sprintf("ch%d", i), ChannelHost: "a.example",
		}
	}
	// Row 2 belongs to a denied channel; row 3 lost its metadata row.
	deny := domain.NewDenylist(nil, []string{"ch2@a.example"})
	delete(meta, 3)

	kept, denied := r.registerAndFilter(rows, refs, meta, deny, logger.New(nil))
	if len(kept) != 2 {
		t.Fatalf("kept %d rows, want 2", len(kept))
	}
	if denied != 1 {
		t.Fatalf("denied = %d, want 1", denied)
	}
	for _, row := range kept {
		if row.AnnID == 2 || row.AnnID == 3 {
			t.Fatalf("row %d should have been filtered", row.AnnID)
		}
	}
	// Kept rows are registered with the identity mapper, filtered ones not.
	if _, ok := r.mapper.Lookup(identityOf(refs[1])); !ok {
		t.Fatal("kept row not registered")
	}
}

func identityOf(ref domain.VideoRef) uint64 {
	return identity.AnnID(ref.UUID, ref.Host)
}

func TestTriggerWhileRunning(t *testing.T) {
	r := refresherFixture(t)
	r.mu.Lock()
	r.status.Running = true
	r.mu.Unlock()

	if err := r.Trigger(); err != ErrRefreshRunning {
		t.Fatalf("err = %v, want ErrRefreshRunning", err)
	}
}
