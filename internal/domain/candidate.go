package domain

// Layer names the candidate-generation strategy a candidate came from.
type Layer string

const (
	LayerExploit Layer = "exploit"
	LayerExplore Layer = "explore"
	LayerFresh   Layer = "fresh"
	LayerPopular Layer = "popular"
	LayerRandom  Layer = "random"
)

// Layers lists every known layer in stable order.
var Layers = []Layer{LayerExploit, LayerExplore, LayerFresh, LayerPopular, LayerRandom}

// Candidate is the per-request carrier of one recommendable video together
// with its raw features. Created by a source, annotated by the scorer,
// filtered and ordered by the mixer, then discarded with the response.
type Candidate struct {
	Ref   VideoRef
	AnnID uint64
	Video *Video

	// Similarity is nil when the request carries no likes (guest path);
	// the scorer treats absence as a zero contribution.
	Similarity *float64
	Freshness  float64
	Popularity float64
	// AuthorRepeat counts same-author candidates already placed earlier in
	// the batch; filled by the mixer while walking the merged list.
	AuthorRepeat int

	Score float64
	Layer Layer
}

// SimilarityOrZero returns the similarity feature with absence as 0.
func (c *Candidate) SimilarityOrZero() float64 {
	if c.Similarity == nil {
		return 0
	}
	return *c.Similarity
}

// SetSimilarity records a present similarity value.
func (c *Candidate) SetSimilarity(s float64) {
	c.Similarity = &s
}

// Pool is the result of one candidate source: an unranked candidate list
// plus underflow bookkeeping. Underflow is expected behavior, never an
// error; StepsTaken records how many broadening steps were spent.
type Pool struct {
	Layer      Layer
	Candidates []*Candidate
	Underflow  bool
	StepsTaken int
}
