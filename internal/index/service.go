package index

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNotBuilt is returned while no generation has been promoted yet. The
// serving path treats it as a degraded-mode signal, not a failure.
var ErrNotBuilt = errors.New("vector index: no generation promoted")

// Searcher is the read contract candidate sources depend on. Both the
// in-process Service and the remote Qdrant backend satisfy it.
type Searcher interface {
	Search(ctx context.Context, query []float32, k, depth int) ([]Hit, error)
}

// Service owns the atomically-swappable handle to the active generation.
// The request path only ever reads through Current/Search; all mutation
// flows through the background refresher, which builds a new generation and
// promotes it in one pointer swap. Readers that captured the old handle
// finish against it.
type Service struct {
	current  atomic.Pointer[Generation]
	sequence atomic.Uint64
}

// NewService creates an empty index service; the process is ready before
// any generation exists.
func NewService() *Service {
	return &Service{}
}

// Current returns the active generation, or nil before the first promote.
func (s *Service) Current() *Generation {
	return s.current.Load()
}

// NextSequence reserves a monotonically increasing generation sequence.
func (s *Service) NextSequence() uint64 {
	return s.sequence.Add(1)
}

// Promote swaps the active generation. The old generation stays valid for
// in-flight readers.
func (s *Service) Promote(g *Generation) {
	s.current.Store(g)
}

// Search searches the active generation.
func (s *Service) Search(ctx context.Context, query []float32, k, depth int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := s.current.Load()
	if g == nil {
		return nil, ErrNotBuilt
	}
	return g.Search(query, k, depth)
}

// Vector fetches the stored vector for annID from the active generation.
func (s *Service) Vector(annID uint64) ([]float32, bool) {
	g := s.current.Load()
	if g == nil {
		return nil, false
	}
	return g.Vector(annID)
}

// Contains reports whether annID is live in the active generation.
func (s *Service) Contains(annID uint64) bool {
	g := s.current.Load()
	return g != nil && g.Contains(annID)
}
