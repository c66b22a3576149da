package vecstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore is a brute-force cosine store used for tests and local
// development. Namespaces are separate maps, so isolation holds by
// construction.
type memoryStore struct {
	mu         sync.RWMutex
	dim        int
	namespaces map[string]map[string]Vector
}

func NewMemoryStore(dim int) (VectorStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	return &memoryStore{
		dim:        dim,
		namespaces: map[string]map[string]Vector{},
	}, nil
}

func (s *memoryStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return fmt.Errorf("namespace required")
	}
	for _, v := range vectors {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("vector id is required")
		}
		if len(v.Values) != s.dim {
			return fmt.Errorf("vector %q dimension mismatch: expected=%d got=%d", v.ID, s.dim, len(v.Values))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	if ns == nil {
		ns = map[string]Vector{}
		s.namespaces[namespace] = ns
	}
	for _, v := range vectors {
		cp := v
		cp.Metadata = cloneMetadata(v.Metadata)
		ns[strings.TrimSpace(v.ID)] = cp
	}
	return nil
}

func (s *memoryStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int) ([]VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q) != s.dim {
		return nil, fmt.Errorf("query vector dimension mismatch: expected=%d got=%d", s.dim, len(q))
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.namespaces[strings.TrimSpace(namespace)]
	if len(ns) == 0 {
		return nil, nil
	}

	out := make([]VectorMatch, 0, len(ns))
	for id, v := range ns {
		out = append(out, VectorMatch{
			ID:       id,
			Score:    cosine(q, v.Values),
			Metadata: cloneMetadata(v.Metadata),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *memoryStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[strings.TrimSpace(namespace)]
	if ns == nil {
		return nil
	}
	for _, id := range ids {
		delete(ns, strings.TrimSpace(id))
	}
	return nil
}

func (s *memoryStore) DeleteOlderThan(ctx context.Context, namespace string, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[strings.TrimSpace(namespace)]
	if ns == nil {
		return 0, nil
	}
	removed := 0
	for id, v := range ns {
		ts, ok := insertedAt(v.Metadata)
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			delete(ns, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[strings.TrimSpace(namespace)]), nil
}

func insertedAt(meta map[string]any) (time.Time, bool) {
	if meta == nil {
		return time.Time{}, false
	}
	switch v := meta[MetadataInsertedAtKey].(type) {
	case int64:
		return time.Unix(v, 0), true
	case float64:
		return time.Unix(int64(v), 0), true
	case int:
		return time.Unix(int64(v), 0), true
	default:
		return time.Time{}, false
	}
}

func cloneMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cosine(a []float32, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
