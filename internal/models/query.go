package models

import (
	"errors"
	"fmt"
)

// Aggregation selects how chunk similarities combine into a document score.
type Aggregation string

const (
	// AggregateMax scores a document by its best chunk.
	AggregateMax Aggregation = "max"
	// AggregateMean scores a document by the mean of its surviving chunks.
	AggregateMean Aggregation = "mean"
)

// ErrInvalidQuery is wrapped by every query validation failure.
var ErrInvalidQuery = errors.New("invalid query")

// NearestQuery is a nearest-neighbour request against the index.
// A nil MinSimilarity leaves the threshold to the engine configuration.
type NearestQuery struct {
	Text          string      `json:"text"`
	ExcludeID     string      `json:"exclude_id,omitempty"`
	MinSimilarity *float64    `json:"min_similarity,omitempty"`
	MaxResults    int         `json:"max_results,omitempty"`
	Aggregation   Aggregation `json:"aggregation,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults.
// Returns an error if the text is empty or the aggregation is unknown.
func (q *NearestQuery) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidQuery)
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 10
	}
	if q.MaxResults > 100 {
		q.MaxResults = 100
	}
	if m := q.MinSimilarity; m != nil && (*m < -1 || *m > 1) {
		return fmt.Errorf("%w: min_similarity must be within [-1, 1], got %v", ErrInvalidQuery, *m)
	}
	switch q.Aggregation {
	case "":
		q.Aggregation = AggregateMax
	case AggregateMax, AggregateMean:
	default:
		return fmt.Errorf("%w: unknown aggregation %q", ErrInvalidQuery, q.Aggregation)
	}
	return nil
}

// Threshold returns a pointer to v for NearestQuery.MinSimilarity.
func Threshold(v float64) *float64 {
	return &v
}
