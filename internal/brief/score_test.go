package brief

import (
	"math"
	"testing"
)

func TestCalculateRelevanceScore(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   float64
	}{
		{"empty", nil, 0.0},
		{"single", []int{5}, 5.0},
		{"documented example", []int{3, 8, 5}, 8.53},
		{"order independent", []int{8, 3, 5}, 8.53},
		{"two scores", []int{4, 4}, 4.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRelevanceScore(tt.scores)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CalculateRelevanceScore(%v) = %v, want %v", tt.scores, got, tt.want)
			}
		})
	}
}

func TestCalculateRelevanceScoreStrictDominance(t *testing.T) {
	// A single 5 outranks any pile of 4s.
	many := make([]int, 50)
	for i := range many {
		many[i] = 4
	}
	if CalculateRelevanceScore([]int{5}) <= CalculateRelevanceScore(many) {
		t.Error("one higher score must dominate any number of lower scores")
	}
}

func TestCalculateRelevanceScoreDoesNotMutateInput(t *testing.T) {
	scores := []int{1, 5, 3}
	CalculateRelevanceScore(scores)
	if scores[0] != 1 || scores[1] != 5 || scores[2] != 3 {
		t.Errorf("input mutated: %v", scores)
	}
}
