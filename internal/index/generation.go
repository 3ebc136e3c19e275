// Package index holds the in-process ANN index over video embeddings.
// An immutable Generation snapshot serves all reads; mutation produces a
// new generation that replaces the active one only after promotion.
package index

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/viterin/vek/vek32"
)

// VectorRow is one embedding consumed at build time.
type VectorRow struct {
	AnnID  uint64
	Vector []float32
}

// Hit is one search result. Score is cosine similarity in [-1, 1].
type Hit struct {
	AnnID uint64
	Score float64
}

// Meta describes how a generation was built.
type Meta struct {
	SchemeVersion string    `json:"scheme_version"`
	Sequence      uint64    `json:"sequence"`
	Count         int       `json:"count"`
	Dim           int       `json:"dim"`
	BuiltAt       time.Time `json:"built_at"`
}

// tombstoneCompactRatio triggers a compacting rebuild once this share of
// rows is tombstoned.
const tombstoneCompactRatio = 0.25

// Generation is an immutable index snapshot: ids, unit-normalized float32
// vectors, an int8 scalar-quantized copy for the coarse scan, and a
// tombstone set for rows removed since the last compaction.
type Generation struct {
	meta       Meta
	ids        []uint64
	vecs       []float32 // row-major, dim-strided, unit norm
	quant      []int8    // row-major quantized copy of vecs
	scales     []float32 // per-row dequantization scale
	pos        map[uint64]int
	tombstones map[uint64]struct{}
}

// Meta returns the build metadata of the generation.
func (g *Generation) Meta() Meta { return g.meta }

// Len reports live (non-tombstoned) vector count.
func (g *Generation) Len() int { return len(g.ids) - len(g.tombstones) }

// Contains reports whether annID is live in this generation.
func (g *Generation) Contains(annID uint64) bool {
	if _, dead := g.tombstones[annID]; dead {
		return false
	}
	_, ok := g.pos[annID]
	return ok
}

// Vector returns the stored (normalized) vector for annID.
func (g *Generation) Vector(annID uint64) ([]float32, bool) {
	if !g.Contains(annID) {
		return nil, false
	}
	i := g.pos[annID]
	d := g.meta.Dim
	return g.vecs[i*d : (i+1)*d], true
}

// IDs returns the live ann_ids of the generation.
func (g *Generation) IDs() []uint64 {
	out := make([]uint64, 0, g.Len())
	for _, id := range g.ids {
		if _, dead := g.tombstones[id]; !dead {
			out = append(out, id)
		}
	}
	return out
}

// Build creates a fresh generation from all vectors. Duplicated ann_ids and
// dimension mismatches fail the build; the previously promoted generation
// stays untouched in that case.
func Build(rows []VectorRow, schemeVersion string, sequence uint64) (*Generation, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("index build: no vectors")
	}
	dim := len(rows[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("index build: zero-dimensional vector for ann_id %d", rows[0].AnnID)
	}

	g := &Generation{
		meta: Meta{
			SchemeVersion: schemeVersion,
			Sequence:      sequence,
			Count:         len(rows),
			Dim:           dim,
			BuiltAt:       time.Now().UTC(),
		},
		ids:        make([]uint64, 0, len(rows)),
		vecs:       make([]float32, 0, len(rows)*dim),
		quant:      make([]int8, 0, len(rows)*dim),
		scales:     make([]float32, 0, len(rows)),
		pos:        make(map[uint64]int, len(rows)),
		tombstones: make(map[uint64]struct{}),
	}
	for _, row := range rows {
		if err := g.appendRow(row); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// WithAdded returns a new generation with rows appended. Existing rows are
// shared; re-adding a known ann_id replaces its vector.
func (g *Generation) WithAdded(rows []VectorRow, sequence uint64) (*Generation, error) {
	next := g.clone(sequence)
	for _, row := range rows {
		if i, ok := next.pos[row.AnnID]; ok {
			// Re-embedding: overwrite in place in the copy.
			norm, scale, q, err := quantize(row.Vector, next.meta.Dim, row.AnnID)
			if err != nil {
				return nil, err
			}
			copy(next.vecs[i*next.meta.Dim:], norm)
			copy(next.quant[i*next.meta.Dim:], q)
			next.scales[i] = scale
			delete(next.tombstones, row.AnnID)
			continue
		}
		if err := next.appendRow(row); err != nil {
			return nil, err
		}
	}
	next.meta.Count = len(next.ids)
	return next, nil
}

// WithRemoved returns a new generation with the given ann_ids tombstoned.
// A compacting rebuild runs automatically once the tombstone ratio passes
// the threshold, so deletion never requires callers to trigger a full
// rebuild themselves.
func (g *Generation) WithRemoved(annIDs []uint64, sequence uint64) *Generation {
	next := g.clone(sequence)
	for _, id := range annIDs {
		if _, ok := next.pos[id]; ok {
			next.tombstones[id] = struct{}{}
		}
	}
	if len(next.ids) > 0 && float64(len(next.tombstones))/float64(len(next.ids)) > tombstoneCompactRatio {
		return next.compact(sequence)
	}
	return next
}

// Search returns the top-k live hits for query. The coarse pass scans the
// quantized vectors and keeps a shortlist of size depth; the exact pass
// re-ranks the shortlist with full-precision dot products. depth below k is
// raised to k.
func (g *Generation) Search(query []float32, k, depth int) ([]Hit, error) {
	if len(query) != g.meta.Dim {
		return nil, fmt.Errorf("index search: query dim %d, index dim %d", len(query), g.meta.Dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if depth < k {
		depth = k
	}
	q := normalize(query)
	// Ordering by quantized dot is scale-invariant, the scales only matter
	// for reconstructing magnitudes, which the exact pass does instead.
	qq, _ := quantizeNormalized(q)

	type coarse struct {
		row   int
		score int64
	}
	shortlist := make([]coarse, 0, depth+1)
	d := g.meta.Dim
	for row, id := range g.ids {
		if _, dead := g.tombstones[id]; dead {
			continue
		}
		var acc int64
		base := row * d
		for j := 0; j < d; j++ {
			acc += int64(g.quant[base+j]) * int64(qq[j])
		}
		shortlist = append(shortlist, coarse{row: row, score: acc})
		if len(shortlist) > depth*2 {
			sort.Slice(shortlist, func(a, b int) bool { return shortlist[a].score > shortlist[b].score })
			shortlist = shortlist[:depth]
		}
	}
	sort.Slice(shortlist, func(a, b int) bool { return shortlist[a].score > shortlist[b].score })
	if len(shortlist) > depth {
		shortlist = shortlist[:depth]
	}

	hits := make([]Hit, 0, len(shortlist))
	for _, c := range shortlist {
		vec := g.vecs[c.row*d : (c.row+1)*d]
		hits = append(hits, Hit{
			AnnID: g.ids[c.row],
			Score: float64(vek32.Dot(q, vec)),
		})
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (g *Generation) appendRow(row VectorRow) error {
	if _, dup := g.pos[row.AnnID]; dup {
		return fmt.Errorf("index build: duplicate ann_id %d", row.AnnID)
	}
	norm, scale, q, err := quantize(row.Vector, g.meta.Dim, row.AnnID)
	if err != nil {
		return err
	}
	g.pos[row.AnnID] = len(g.ids)
	g.ids = append(g.ids, row.AnnID)
	g.vecs = append(g.vecs, norm...)
	g.quant = append(g.quant, q...)
	g.scales = append(g.scales, scale)
	return nil
}

func (g *Generation) clone(sequence uint64) *Generation {
	next := &Generation{
		meta:       g.meta,
		ids:        append([]uint64(nil), g.ids...),
		vecs:       append([]float32(nil), g.vecs...),
		quant:      append([]int8(nil), g.quant...),
		scales:     append([]float32(nil), g.scales...),
		pos:        make(map[uint64]int, len(g.pos)),
		tombstones: make(map[uint64]struct{}, len(g.tombstones)),
	}
	for id, i := range g.pos {
		next.pos[id] = i
	}
	for id := range g.tombstones {
		next.tombstones[id] = struct{}{}
	}
	next.meta.Sequence = sequence
	next.meta.BuiltAt = time.Now().UTC()
	return next
}

func (g *Generation) compact(sequence uint64) *Generation {
	d := g.meta.Dim
	rows := make([]VectorRow, 0, g.Len())
	for row, id := range g.ids {
		if _, dead := g.tombstones[id]; dead {
			continue
		}
		rows = append(rows, VectorRow{AnnID: id, Vector: g.vecs[row*d : (row+1)*d]})
	}
	next, err := Build(rows, g.meta.SchemeVersion, sequence)
	if err != nil {
		// Compaction input comes from a valid generation; a failure here
		// means empty live set, keep the tombstoned form.
		return g.clone(sequence)
	}
	return next
}

func quantize(vector []float32, dim int, annID uint64) (norm []float32, scale float32, q []int8, err error) {
	if len(vector) != dim {
		return nil, 0, nil, fmt.Errorf("index build: ann_id %d has dim %d, index dim %d", annID, len(vector), dim)
	}
	norm = normalize(vector)
	q, scale = quantizeNormalized(norm)
	return norm, scale, q, nil
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	n := math.Sqrt(float64(vek32.Dot(v, v)))
	if n == 0 || math.IsNaN(n) {
		return out
	}
	vek32.MulNumber_Inplace(out, float32(1/n))
	return out
}

func quantizeNormalized(v []float32) ([]int8, float32) {
	var maxAbs float32
	for _, x := range v {
		if a := float32(math.Abs(float64(x))); a > maxAbs {
			maxAbs = a
		}
	}
	q := make([]int8, len(v))
	if maxAbs == 0 {
		return q, 0
	}
	scale := maxAbs / 127
	for i, x := range v {
		q[i] = int8(math.Round(float64(x / scale)))
	}
	return q, scale
}
