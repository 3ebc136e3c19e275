// Package mixer assembles the final batch from per-layer candidate pools:
// quota allocation, fallback fill, global filtering and ordering.
package mixer

import (
	"math"
	"sort"

	"github.com/denikryt/PeerTube-browser-sub000/internal/config"
	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
	"github.com/denikryt/PeerTube-browser-sub000/internal/scorer"
)

// Mixer turns layer pools into one ordered batch. It never fails: layers
// that delivered short pools just contribute less, and the batch shrinks
// when the whole corpus cannot fill it.
type Mixer struct {
	score *scorer.Scorer
}

func New(score *scorer.Scorer) *Mixer {
	return &Mixer{score: score}
}

// Result carries the batch plus per-layer accounting for the debug surface.
type Result struct {
	Candidates []*domain.Candidate
	// Taken counts how many entries each layer placed in the final batch.
	Taken map[domain.Layer]int
	// Dropped counts candidates removed by the global filters.
	DroppedDenied int
	DroppedDup    int
	DroppedCapped int
}

// Mix allocates mix-ratio quotas per layer, fills shortfalls from the
// fallback order, then applies the global filters in a fixed order:
// denylist, identity dedup, per-author and per-instance caps. Entries the
// filters remove are replaced from the remaining pool inventory, so the
// batch only comes up short when the filtered corpus is exhausted. The
// final order is score-descending with fresh entries spread across
// positions.
func (m *Mixer) Mix(profile *config.ProfileConfig, pools map[domain.Layer]*domain.Pool, denylist *domain.Denylist, limit int) *Result {
	res := &Result{Taken: make(map[domain.Layer]int)}
	if limit <= 0 {
		return res
	}

	// Sort each pool by score so quotas take the best of every layer.
	for _, pool := range pools {
		sort.SliceStable(pool.Candidates, func(i, j int) bool {
			return pool.Candidates[i].Score > pool.Candidates[j].Score
		})
	}

	picked := make([]*domain.Candidate, 0, limit)
	offsets := make(map[domain.Layer]int)

	for _, name := range profile.Layers {
		layer := domain.Layer(name)
		pool, ok := pools[layer]
		if !ok {
			continue
		}
		quota := int(math.Round(float64(limit) * profile.MixRatio[name]))
		if quota > len(pool.Candidates) {
			quota = len(pool.Candidates)
		}
		picked = append(picked, pool.Candidates[:quota]...)
		offsets[layer] = quota
	}

	// Fallback fill: walk the declared order and drain leftovers until the
	// batch is full or everything is exhausted.
	for _, name := range profile.FallbackOrder {
		if len(picked) >= limit {
			break
		}
		layer := domain.Layer(name)
		pool, ok := pools[layer]
		if !ok {
			continue
		}
		rest := pool.Candidates[offsets[layer]:]
		for _, c := range rest {
			picked = append(picked, c)
			offsets[layer]++
			if len(picked) >= limit {
				break
			}
		}
	}

	// Filter the picks in score order so the highest scored entry of an
	// over-represented author wins its cap slot.
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].Score > picked[j].Score
	})
	ad := m.newAdmitter(profile, denylist, res)
	batch := make([]*domain.Candidate, 0, limit)
	for _, c := range picked {
		if ad.admit(c) {
			batch = append(batch, c)
		}
	}

	// Top up filter losses from the unpicked remainder. Dedup and cap
	// drops must not shorten the batch while inventory remains.
	for _, name := range profile.FallbackOrder {
		if len(batch) >= limit {
			break
		}
		layer := domain.Layer(name)
		pool, ok := pools[layer]
		if !ok {
			continue
		}
		for _, c := range pool.Candidates[offsets[layer]:] {
			offsets[layer]++
			if ad.admit(c) {
				batch = append(batch, c)
				if len(batch) >= limit {
					break
				}
			}
		}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Score > batch[j].Score
	})
	if len(batch) > limit {
		batch = batch[:limit]
	}

	final := spreadFresh(batch)
	for _, c := range final {
		res.Taken[c.Layer]++
	}
	res.Candidates = final
	return res
}

// admitter carries the filter state across the quota picks and the top-up
// walk: denylist, identity dedup and diversity caps, applied in that order.
// AuthorRepeat is annotated on admission and the score adjusted so repeated
// authors sink even below their cap.
type admitter struct {
	profile   *config.ProfileConfig
	denylist  *domain.Denylist
	score     *scorer.Scorer
	res       *Result
	seen      map[string]struct{}
	authors   map[string]int
	instances map[string]int
}

func (m *Mixer) newAdmitter(profile *config.ProfileConfig, denylist *domain.Denylist, res *Result) *admitter {
	return &admitter{
		profile:   profile,
		denylist:  denylist,
		score:     m.score,
		res:       res,
		seen:      make(map[string]struct{}),
		authors:   make(map[string]int),
		instances: make(map[string]int),
	}
}

func (a *admitter) admit(c *domain.Candidate) bool {
	host := c.Ref.Host
	authorKey := ""
	if c.Video != nil {
		authorKey = c.Video.AuthorKey()
	}

	if a.denylist.Denied(host, authorKey) {
		a.res.DroppedDenied++
		return false
	}
	key := c.Ref.Key()
	if _, dup := a.seen[key]; dup {
		a.res.DroppedDup++
		return false
	}
	if authorKey != "" && a.profile.MaxPerAuthor > 0 && a.authors[authorKey] >= a.profile.MaxPerAuthor {
		a.res.DroppedCapped++
		return false
	}
	if a.profile.MaxPerInstance > 0 && a.instances[host] >= a.profile.MaxPerInstance {
		a.res.DroppedCapped++
		return false
	}

	a.seen[key] = struct{}{}
	if authorKey != "" {
		c.AuthorRepeat = a.authors[authorKey]
		a.authors[authorKey]++
		if c.AuthorRepeat > 0 && a.score != nil {
			c.Score -= a.score.Weights().RepetitionPenalty * float64(c.AuthorRepeat)
		}
	}
	a.instances[host]++
	return true
}

// spreadFresh redistributes fresh-layer entries across the batch so they
// do not cluster at the head, keeping everything else in rank order.
func spreadFresh(batch []*domain.Candidate) []*domain.Candidate {
	var fresh, rest []*domain.Candidate
	for _, c := range batch {
		if c.Layer == domain.LayerFresh {
			fresh = append(fresh, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(fresh) == 0 || len(rest) == 0 {
		return batch
	}

	out := make([]*domain.Candidate, 0, len(batch))
	stride := float64(len(batch)) / float64(len(fresh))
	nextFresh := 0
	ri := 0
	for i := 0; i < len(batch); i++ {
		slot := int(math.Floor(float64(nextFresh)*stride + stride/2))
		if nextFresh < len(fresh) && i >= slot {
			out = append(out, fresh[nextFresh])
			nextFresh++
			continue
		}
		if ri < len(rest) {
			out = append(out, rest[ri])
			ri++
			continue
		}
		out = append(out, fresh[nextFresh])
		nextFresh++
	}
	return out
}
