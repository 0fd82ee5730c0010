package gemini

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// dotProduct calculates the dot product of two vectors.
func dotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}
	var product float32
	for i := range vec1 {
		product += vec1[i] * vec2[i]
	}
	return product, nil
}

// magnitude calculates the L2 norm of a vector.
func magnitude(vec []float32) float32 {
	var sumOfSquares float32
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return float32(math.Sqrt(float64(sumOfSquares)))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dot, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}
	return dot / (mag1 * mag2), nil
}

type entry struct {
	text string
	vec  []float32
}

// Match is one search hit
type Match struct {
	ID    string
	Text  string
	Score float32
}

// Index is an in-memory vector index over one tenant's transactions, keyed by transaction id
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]entry)}
}

// Put inserts or replaces the entry for id
func (ix *Index) Put(id, text string, vec []float32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[id] = entry{text: text, vec: vec}
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[string]entry)
}

// Search returns at most k entries scoring at least threshold against query, best first.
// Entries whose dimension does not match the query are skipped.
func (ix *Index) Search(query []float32, k int, threshold float32) []Match {
	ix.mu.RLock()
	matches := make([]Match, 0, len(ix.entries))
	for id, e := range ix.entries {
		score, err := CosineSimilarity(query, e.vec)
		if err != nil {
			continue
		}
		if score >= threshold {
			matches = append(matches, Match{ID: id, Text: e.text, Score: score})
		}
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
