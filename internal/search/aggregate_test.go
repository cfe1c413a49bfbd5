package search

import (
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
)

func TestAggregators(t *testing.T) {
	tests := []struct {
		name string
		agg  models.Aggregation
		in   []float64
		want float64
	}{
		{"max", models.AggregateMax, []float64{0.2, 0.9, 0.5}, 0.9},
		{"mean", models.AggregateMean, []float64{0.2, 0.8}, 0.5},
		{"default is max", "", []float64{0.1, 0.4}, 0.4},
		{"empty", models.AggregateMean, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := AggregatorFor(tt.agg)
			if err != nil {
				t.Fatal(err)
			}
			if got := agg(tt.in); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if _, err := AggregatorFor("median"); err == nil {
		t.Error("unknown aggregation should fail")
	}
}

func TestExcerpt(t *testing.T) {
	text := "# Title\n\nbody line\nmore"
	if got := Excerpt(text, 0, 0); got != text {
		t.Errorf("line 0: got %q", got)
	}
	if got := Excerpt(text, 2, 0); got != "body line\nmore" {
		t.Errorf("line 2: got %q", got)
	}
	if got := Excerpt(text, 9, 10); got != "" {
		t.Errorf("past end: got %q", got)
	}
}
