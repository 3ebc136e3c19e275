// Package scorer turns raw candidate features into one scalar per
// candidate. Weights come from the active profile; nothing here is
// hard-coded per surface.
package scorer

import (
	"math"
	"time"

	"github.com/denikryt/PeerTube-browser-sub000/internal/domain"
)

// Weights configures the linear feature combination for one profile.
type Weights struct {
	Similarity        float64
	Freshness         float64
	Popularity        float64
	RepetitionPenalty float64

	FreshnessHalfLifeDays float64
}

// Scorer applies one profile's weights to candidates.
type Scorer struct {
	w Weights
}

// New creates a scorer for the given weights.
func New(w Weights) *Scorer {
	if w.FreshnessHalfLifeDays <= 0 {
		w.FreshnessHalfLifeDays = 14
	}
	return &Scorer{w: w}
}

// Weights returns the active weight set.
func (s *Scorer) Weights() Weights {
	return s.w
}

// Freshness maps video age onto (0, 1]: 1 for just-published, halved every
// half-life, asymptotic to 0 for old content. Future timestamps clamp to 1.
func (s *Scorer) Freshness(publishedAt, now time.Time) float64 {
	ageDays := now.Sub(publishedAt).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	return math.Exp2(-ageDays / s.w.FreshnessHalfLifeDays)
}

// popularityDecayDays is the horizon of the soft recency bonus baked into
// the popularity feature.
const popularityDecayDays = 90

// Popularity folds view and like counters (and the optional derived signal
// score from the interaction store) into [0, 1), log-scaled so federation
// giants do not flatten everything else, with a soft bonus for recent
// uploads.
func Popularity(views, likes int64, signalScore float64, publishedAt, now time.Time) float64 {
	raw := math.Log10(1+float64(views)) + 2*math.Log10(1+float64(likes)) + signalScore
	base := raw / (1 + raw)
	if base < 0 {
		base = 0
	}

	ageDays := now.Sub(publishedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	bonus := 0.25 * math.Exp(-ageDays/popularityDecayDays)
	p := base * (1 + bonus)
	if p >= 1 {
		p = 1 - 1e-9
	}
	return p
}

// Score computes the candidate's scalar from its annotated features. A
// missing similarity contributes zero, never an error.
func (s *Scorer) Score(c *domain.Candidate) float64 {
	score := s.w.Similarity * c.SimilarityOrZero()
	score += s.w.Freshness * c.Freshness
	score += s.w.Popularity * c.Popularity
	score -= s.w.RepetitionPenalty * float64(c.AuthorRepeat)
	return score
}

// Annotate fills Freshness (from video metadata) and Score for every
// candidate in place. Candidates without metadata keep zero freshness.
func (s *Scorer) Annotate(pool []*domain.Candidate, now time.Time) {
	for _, c := range pool {
		if c.Video != nil {
			c.Freshness = s.Freshness(c.Video.PublishedAt, now)
		}
		c.Score = s.Score(c)
	}
}
