package vecstore

import (
	"context"
	"time"
)

// MetadataInsertedAtKey is the payload field holding insertion time as
// unix seconds. DeleteOlderThan filters on it.
const MetadataInsertedAtKey = "inserted_at"

type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

type VectorMatch struct {
	ID    string
	Score float64
	// Metadata is the stored payload of the matched vector.
	Metadata map[string]any
}

// VectorStore is the index backend. Namespaces are hard isolation
// boundaries: no operation ever crosses one.
type VectorStore interface {
	// Upsert inserts or replaces by vector ID within the namespace.
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// QueryMatches returns the topK nearest vectors by cosine similarity,
	// higher score first.
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int) ([]VectorMatch, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
	// DeleteOlderThan removes vectors whose inserted_at payload predates
	// cutoff. Only the given namespace is touched.
	DeleteOlderThan(ctx context.Context, namespace string, cutoff time.Time) (int, error)
	// Count reports how many vectors the namespace holds.
	Count(ctx context.Context, namespace string) (int, error)
}
