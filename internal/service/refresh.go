package service

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/cache"
	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/identity"
	"github.com/denikryt/PeerTube-browser-sub000/internal/index"
	"github.com/denikryt/PeerTube-browser-sub000/internal/logger"
	"github.com/denikryt/PeerTube-browser-sub000/internal/repository"
	"github.com/denikryt/PeerTube-browser-sub000/internal/storage"
)

// MemoInvalidator is implemented by sources that memoize index results and
// must flush them after a promotion.
type MemoInvalidator interface {
	InvalidateMemo()
}

// RefreshStatus is the observable state of the refresh loop.
type RefreshStatus struct {
	Running      bool      `json:"running"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Generation   uint64    `json:"generation,omitempty"`
	IndexedCount int       `json:"indexed_count"`
	SkippedRows  int       `json:"skipped_rows"`
	DeniedCount  int       `json:"denied_count"`
}

// Refresher owns the index build and cache rebuild cycle. One refresh runs
// at a time; the request path keeps serving the previous snapshots
// throughout and switches only on promotion.
type Refresher struct {
	cfg        *config.Config
	embeddings *repository.EmbeddingRepository
	videos     *repository.VideoRepository
	moderation *repository.ModerationRepository
	mapper     *identity.Mapper
	index      *index.Service
	remote     *index.RemoteIndex
	simCache   *cache.SimilarityCache
	randomPool *cache.RandomPool
	artifacts  storage.ArtifactStore
	memos      []MemoInvalidator
	logger     *logger.Logger

	mu       sync.Mutex
	status   RefreshStatus
	denylist *domain.Denylist

	trigger chan struct{}
	done    chan struct{}
}

// NewRefresher wires the refresh loop. remote is non-nil only for the
// qdrant index backend; artifacts may be nil when publishing is disabled.
func NewRefresher(
	cfg *config.Config,
	embeddings *repository.EmbeddingRepository,
	videos *repository.VideoRepository,
	moderation *repository.ModerationRepository,
	mapper *identity.Mapper,
	idx *index.Service,
	remote *index.RemoteIndex,
	simCache *cache.SimilarityCache,
	randomPool *cache.RandomPool,
	artifacts storage.ArtifactStore,
	log *logger.Logger,
) *Refresher {
	return &Refresher{
		cfg:        cfg,
		embeddings: embeddings,
		videos:     videos,
		moderation: moderation,
		mapper:     mapper,
		index:      idx,
		remote:     remote,
		simCache:   simCache,
		randomPool: randomPool,
		artifacts:  artifacts,
		logger:     log,
		denylist:   domain.NewDenylist(nil, nil),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// AddMemoInvalidator registers a source memo to flush after promotions.
func (r *Refresher) AddMemoInvalidator(m MemoInvalidator) {
	r.memos = append(r.memos, m)
}

// Denylist returns the active moderation set.
func (r *Refresher) Denylist() *domain.Denylist {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.denylist
}

// Status returns a copy of the current refresh state.
func (r *Refresher) Status() RefreshStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Trigger requests a full refresh. Returns ErrRefreshRunning when a cycle
// is already in flight instead of queueing a second one.
func (r *Refresher) Trigger() error {
	r.mu.Lock()
	running := r.status.Running
	r.mu.Unlock()
	if running {
		return ErrRefreshRunning
	}
	select {
	case r.trigger <- struct{}{}:
		return nil
	default:
		return ErrRefreshRunning
	}
}

// Run drives the refresh loop until ctx is canceled: an optional immediate
// cycle, then timer cycles (scoped when configured) and manual triggers
// (always full).
func (r *Refresher) Run(ctx context.Context) {
	defer close(r.done)

	if r.cfg.Refresh.OnStart {
		r.runCycle(ctx, false)
	}

	ticker := time.NewTicker(r.cfg.Refresh.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCycle(ctx, r.cfg.Refresh.Scoped)
		case <-r.trigger:
			r.runCycle(ctx, false)
		}
	}
}

// Wait blocks until the loop has exited.
func (r *Refresher) Wait() {
	<-r.done
}

// RunOnce executes a single full refresh cycle synchronously, for one-shot
// command-line invocations.
func (r *Refresher) RunOnce(ctx context.Context) error {
	return r.runCycle(ctx, false)
}

func (r *Refresher) runCycle(ctx context.Context, scoped bool) error {
	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return ErrRefreshRunning
	}
	r.status.Running = true
	r.status.LastStarted = time.Now()
	r.mu.Unlock()

	refreshID := time.Now().UnixNano()
	log := r.logger.WithFields(logger.Fields{
		logger.FieldRefreshID: refreshID,
		logger.FieldComponent: "refresher",
	})
	log.WithField("scoped", scoped).Info("refresh cycle started")

	err := r.refresh(ctx, scoped, log)

	r.mu.Lock()
	r.status.Running = false
	r.status.LastFinished = time.Now()
	if err != nil {
		r.status.LastError = err.Error()
	} else {
		r.status.LastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		log.WithField("error", err).Error("refresh cycle failed")
		return err
	}
	log.Info("refresh cycle finished")
	return nil
}

func (r *Refresher) refresh(ctx context.Context, scoped bool, log *logger.Logger) error {
	// Moderation first: the new corpus view should exclude what the new
	// denylist excludes.
	denylist, err := r.moderation.LoadDenylist(ctx)
	if err != nil {
		log.WithField("error", err).Warn("denylist reload failed, keeping previous")
	} else {
		r.mu.Lock()
		r.denylist = denylist
		r.mu.Unlock()
	}
	denylist = r.Denylist()

	rows, skipped, err := r.embeddings.ListRows(ctx, r.cfg.Index.Dim)
	if err != nil {
		return err
	}
	refs, err := r.embeddings.ListRefs(ctx)
	if err != nil {
		return err
	}
	meta, err := r.videos.ListAuthorMeta(ctx)
	if err != nil {
		return err
	}

	rows, denied := r.registerAndFilter(rows, refs, meta, denylist, log)
	if len(rows) == 0 {
		return errors.New("no usable embeddings")
	}

	if r.remote != nil {
		return r.refreshRemote(ctx, rows, log)
	}

	gen, err := r.nextGeneration(rows, scoped)
	if err != nil {
		return err
	}

	// Cache artifacts build against the candidate generation, before it is
	// promoted. A failed build leaves both the active artifact and the
	// active generation untouched.
	if scoped {
		err = r.simCache.RebuildScoped(ctx, gen)
	} else {
		err = r.simCache.Rebuild(ctx, gen)
	}
	if err != nil {
		return err
	}

	lookup := func(annID uint64) (cache.PoolMeta, bool) {
		m, ok := meta[annID]
		if !ok {
			return cache.PoolMeta{}, false
		}
		return cache.PoolMeta{
			Author: m.ChannelName + "@" + domain.NormalizeHost(m.ChannelHost),
			Host:   domain.NormalizeHost(m.Host),
		}, true
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if err := r.randomPool.Rebuild(ctx, gen, lookup, rng); err != nil {
		return err
	}

	r.index.Promote(gen)
	for _, m := range r.memos {
		m.InvalidateMemo()
	}

	r.mu.Lock()
	r.status.Generation = gen.Meta().Sequence
	r.status.IndexedCount = gen.Len()
	r.status.SkippedRows = skipped
	r.status.DeniedCount = denied
	r.mu.Unlock()

	r.publishArtifacts(ctx, log)

	log.WithFields(logger.Fields{
		logger.FieldGeneration: gen.Meta().Sequence,
		logger.FieldCount:      gen.Len(),
	}).Info("generation promoted")
	return nil
}

// registerAndFilter registers identities with the mapper and drops rows
// that collide, lost their metadata, or belong to denied content.
func (r *Refresher) registerAndFilter(
	rows []index.VectorRow,
	refs map[uint64]domain.VideoRef,
	meta map[uint64]repository.AuthorMeta,
	denylist *domain.Denylist,
	log *logger.Logger,
) ([]index.VectorRow, int) {
	kept := rows[:0]
	denied := 0
	for _, row := range rows {
		ref, ok := refs[row.AnnID]
		if !ok {
			continue
		}
		m, ok := meta[row.AnnID]
		if !ok {
			// Embedding outlived its video row; the next crawler sweep
			// cleans the orphan up.
			continue
		}
		authorKey := m.ChannelName + "@" + domain.NormalizeHost(m.ChannelHost)
		if denylist.Denied(m.Host, authorKey) {
			denied++
			continue
		}
		if _, err := r.mapper.Register(ref); err != nil {
			log.WithField("error", err).Error("identity rejected")
			continue
		}
		kept = append(kept, row)
	}
	return kept, denied
}

// nextGeneration builds the candidate generation: a full build normally, a
// delta against the current generation on scoped cycles.
func (r *Refresher) nextGeneration(rows []index.VectorRow, scoped bool) (*index.Generation, error) {
	current := r.index.Current()
	seq := r.index.NextSequence()

	if !scoped || current == nil || current.Meta().SchemeVersion != r.cfg.Index.SchemeVersion {
		return index.Build(rows, r.cfg.Index.SchemeVersion, seq)
	}

	live := make(map[uint64]struct{}, len(rows))
	var added []index.VectorRow
	for _, row := range rows {
		live[row.AnnID] = struct{}{}
		if !current.Contains(row.AnnID) {
			added = append(added, row)
		}
	}
	var removed []uint64
	for _, id := range current.IDs() {
		if _, ok := live[id]; !ok {
			removed = append(removed, id)
		}
	}

	gen := current
	if len(removed) > 0 {
		gen = gen.WithRemoved(removed, seq)
	}
	if len(added) > 0 {
		var err error
		gen, err = gen.WithAdded(added, seq)
		if err != nil {
			return nil, err
		}
	}
	return gen, nil
}

// refreshRemote pushes the corpus to the external index. Artifact rebuilds
// need local vectors and are skipped on this backend; the similar and
// exploit paths fall back to live remote searches.
func (r *Refresher) refreshRemote(ctx context.Context, rows []index.VectorRow, log *logger.Logger) error {
	if err := r.remote.Upsert(ctx, rows); err != nil {
		return err
	}
	for _, m := range r.memos {
		m.InvalidateMemo()
	}
	r.mu.Lock()
	r.status.IndexedCount = len(rows)
	r.mu.Unlock()
	log.WithField(logger.FieldCount, len(rows)).Info("remote index refreshed")
	return nil
}

// publishArtifacts uploads the promoted cache files. Publishing is best
// effort; a failed upload never fails the refresh that produced them.
func (r *Refresher) publishArtifacts(ctx context.Context, log *logger.Logger) {
	if r.artifacts == nil {
		return
	}
	for _, path := range []string{r.simCache.Path(), r.randomPool.Path()} {
		key := filepath.Base(path)
		if err := r.artifacts.Publish(ctx, key, path); err != nil {
			log.WithField("error", err).Warn("artifact publish failed")
		}
	}
}

// BootstrapArtifacts downloads cache artifacts that are missing locally,
// so a fresh instance serves warm before its first refresh completes.
func BootstrapArtifacts(ctx context.Context, store storage.ArtifactStore, log *logger.Logger, paths ...string) {
	if store == nil {
		return
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		key := filepath.Base(path)
		ok, err := store.Exists(ctx, key)
		if err != nil || !ok {
			continue
		}
		if err := store.Fetch(ctx, key, path); err != nil {
			log.WithField("error", err).Warn("artifact bootstrap failed")
			continue
		}
		log.WithField("artifact", key).Info("artifact bootstrapped")
	}
}
