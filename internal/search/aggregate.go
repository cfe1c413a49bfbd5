package search

import (
	"fmt"
	"sort"

	"github.com/hyperjump/ruiji/internal/models"
)

// Aggregator combines the similarities of a document's surviving chunks,
// sorted best first, into one ranking score.
type Aggregator func(similarities []float64) float64

var aggregators = map[models.Aggregation]Aggregator{
	models.AggregateMax:  MaxSimilarity,
	models.AggregateMean: MeanSimilarity,
}

// AggregatorFor returns the strategy registered for a.
func AggregatorFor(a models.Aggregation) (Aggregator, error) {
	if a == "" {
		a = models.AggregateMax
	}
	agg, ok := aggregators[a]
	if !ok {
		return nil, fmt.Errorf("%w: unknown aggregation %q", models.ErrInvalidQuery, a)
	}
	return agg, nil
}

// MaxSimilarity scores a document by its best chunk.
func MaxSimilarity(similarities []float64) float64 {
	if len(similarities) == 0 {
		return 0
	}
	best := similarities[0]
	for _, s := range similarities[1:] {
		if s > best {
			best = s
		}
	}
	return best
}

// MeanSimilarity scores a document by the mean of its chunks.
func MeanSimilarity(similarities []float64) float64 {
	if len(similarities) == 0 {
		return 0
	}
	var sum float64
	for _, s := range similarities {
		sum += s
	}
	return sum / float64(len(similarities))
}

// rankMatches sorts chunks within each match best first, scores each match
// with agg and stable-sorts matches by score, so equal scores keep their
// grouping order.
func rankMatches(matches []*models.DocumentMatch, agg Aggregator) {
	sims := make([]float64, 0, 8)
	for _, m := range matches {
		sort.SliceStable(m.Chunks, func(i, j int) bool {
			return m.Chunks[i].Similarity > m.Chunks[j].Similarity
		})
		sims = sims[:0]
		for _, c := range m.Chunks {
			sims = append(sims, c.Similarity)
		}
		m.Score = agg(sims)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}
