// Package identity derives the stable 64-bit index identity (ann_id) every
// other engine component uses instead of physical storage position. The
// mapping is a pure hash of the federation identity, so it survives index
// rebuilds, row purges and process restarts.
package identity

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
)

// ErrCollision is returned when two distinct video identities hash to the
// same ann_id. The write that introduced the collision must be rejected;
// overwriting the existing mapping would silently corrupt every cache and
// index entry referencing it.
type ErrCollision struct {
	AnnID    uint64
	Existing domain.VideoRef
	Incoming domain.VideoRef
}

func (e *ErrCollision) Error() string {
	return fmt.Sprintf("ann_id collision %d: %s vs %s", e.AnnID, e.Existing.Key(), e.Incoming.Key())
}

// AnnID maps a video identity to its ann_id. The host is normalized first,
// so equivalent spellings of the same instance never map to two identities.
func AnnID(videoUUID, host string) uint64 {
	ref := domain.VideoRef{UUID: videoUUID, Host: host}
	return xxhash.Sum64String(ref.Normalized().Key())
}

// CollisionPolicy decides what happens when Register detects that a new
// identity hashes onto an ann_id already held by a different identity.
// The default rejects; a reassign-with-salt policy can be plugged in once
// a product decision lands.
type CollisionPolicy interface {
	// Resolve returns the ann_id to use for incoming, or an error to
	// reject the registration.
	Resolve(annID uint64, existing, incoming domain.VideoRef) (uint64, error)
}

// RejectPolicy fails the registration and surfaces both identities for
// manual resolution.
type RejectPolicy struct{}

func (RejectPolicy) Resolve(annID uint64, existing, incoming domain.VideoRef) (uint64, error) {
	return 0, &ErrCollision{AnnID: annID, Existing: existing, Incoming: incoming}
}

// Mapper tracks the ann_id → identity mapping for registered videos and
// enforces the collision invariant at write time.
type Mapper struct {
	mu     sync.RWMutex
	byID   map[uint64]domain.VideoRef
	policy CollisionPolicy
}

// NewMapper creates a mapper with the given collision policy; nil means
// reject-and-alert.
func NewMapper(policy CollisionPolicy) *Mapper {
	if policy == nil {
		policy = RejectPolicy{}
	}
	return &Mapper{
		byID:   make(map[uint64]domain.VideoRef),
		policy: policy,
	}
}

// Register maps ref to its ann_id. Registering the same identity again is a
// no-op returning the same id. A detected collision goes through the policy
// and, under the default policy, fails the write.
func (m *Mapper) Register(ref domain.VideoRef) (uint64, error) {
	ref = ref.Normalized()
	id := xxhash.Sum64String(ref.Key())

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byID[id]; ok {
		if existing == ref {
			return id, nil
		}
		resolved, err := m.policy.Resolve(id, existing, ref)
		if err != nil {
			return 0, err
		}
		id = resolved
	}
	m.byID[id] = ref
	return id, nil
}

// Lookup resolves an ann_id back to the video identity it was registered
// under.
func (m *Mapper) Lookup(annID uint64) (domain.VideoRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.byID[annID]
	return ref, ok
}

// Remove forgets an ann_id, typically when the video is purged.
func (m *Mapper) Remove(annID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, annID)
}

// Len reports the number of registered identities.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
