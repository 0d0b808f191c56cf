// Package embed provides text embedding generation and similarity computation.
package embed

import (
	"context"
	"fmt"
	"math"
)

// Result is one embedding call's output: the vectors plus the provider's
// billed token count.
type Result struct {
	Vectors [][]float32
	Model   string
	Tokens  int
}

// Embedder generates vector embeddings from text. When the returned error is
// nil, Vectors has the same length as texts, with Vectors[i] corresponding to
// texts[i].
type Embedder interface {
	Embed(ctx context.Context, texts []string) (Result, error)
}

// CosineSimilarity computes similarity between two embeddings.
// Returns 1.0 for identical vectors, 0.0 for orthogonal vectors.
// Returns an error for mismatched lengths or zero vectors rather than
// silently producing a wrong score.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("cosine similarity requires equal non-empty vectors, got %d and %d", len(a), len(b))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cosine similarity is undefined for zero vectors")
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// SimilarityMatrix computes pairwise cosine similarity with rows indexed by
// old and columns by new: matrix[i][j] is the similarity between old[i] and
// new[j].
func SimilarityMatrix(old, new [][]float32) ([][]float32, error) {
	matrix := make([][]float32, len(old))
	for i, o := range old {
		row := make([]float32, len(new))
		for j, n := range new {
			sim, err := CosineSimilarity(o, n)
			if err != nil {
				return nil, fmt.Errorf("similarity of old[%d] and new[%d]: %w", i, j, err)
			}
			row[j] = sim
		}
		matrix[i] = row
	}
	return matrix, nil
}

// MaxPerColumn returns, for each column of the matrix, the maximum value
// across rows and the row index where it occurs. Used to find the most
// similar historical item for every new item.
func MaxPerColumn(matrix [][]float32, columns int) (maxima []float32, argmax []int) {
	maxima = make([]float32, columns)
	argmax = make([]int, columns)
	for j := 0; j < columns; j++ {
		best := float32(math.Inf(-1))
		bestRow := -1
		for i := range matrix {
			if matrix[i][j] > best {
				best = matrix[i][j]
				bestRow = i
			}
		}
		maxima[j] = best
		argmax[j] = bestRow
	}
	return maxima, argmax
}
