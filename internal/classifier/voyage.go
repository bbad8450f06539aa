package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pbaille/deskorg/internal/embedding"
)

// ErrNoMatch is returned when no category is similar enough
var ErrNoMatch = errors.New("no category above similarity threshold")

// Voyage picks the configured category whose embedding is closest to the chunk.
// It cannot invent categories, so known categories are ignored.
type Voyage struct {
	svc        *embedding.Service
	categories []string
	minScore   float64

	mu      sync.Mutex
	vectors [][]float64
}

// NewVoyage creates an embedding-based backend over a fixed category list
func NewVoyage(apiKey, model, baseURL string, categories []string, minScore float64) (*Voyage, error) {
	if len(categories) == 0 {
		return nil, errors.New("voyage classifier needs a category list")
	}
	svc, err := embedding.New(apiKey, model, baseURL)
	if err != nil {
		return nil, err
	}
	return &Voyage{svc: svc, categories: categories, minScore: minScore}, nil
}

// Categorize embeds the chunk and returns the nearest category
func (v *Voyage) Categorize(ctx context.Context, chunk string, known []string) (string, error) {
	vectors, err := v.categoryVectors(ctx)
	if err != nil {
		return "", err
	}

	vec, err := v.svc.Embed(ctx, chunk)
	if err != nil {
		return "", fmt.Errorf("embed chunk: %w", err)
	}

	best, bestScore := -1, 0.0
	for i, cv := range vectors {
		if score := embedding.CosineSimilarity(vec, cv); best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best == -1 || bestScore < v.minScore {
		return "", ErrNoMatch
	}
	return v.categories[best], nil
}

// categoryVectors embeds the category names on first use. A failed attempt
// is retried on the next call.
func (v *Voyage) categoryVectors(ctx context.Context) ([][]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.vectors != nil {
		return v.vectors, nil
	}
	vectors, err := v.svc.EmbedBatch(ctx, v.categories)
	if err != nil {
		return nil, fmt.Errorf("embed categories: %w", err)
	}
	v.vectors = vectors
	return vectors, nil
}
