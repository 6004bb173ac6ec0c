package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemIndex is an in-process brute-force cosine index. It backs tests and
// offline runs where no Qdrant instance is available.
type MemIndex struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dimension uint64
	order     []string
	points    map[string]Point
}

var _ Index = (*MemIndex)(nil)

// NewMemIndex returns an empty in-memory index.
func NewMemIndex() *MemIndex {
	return &MemIndex{collections: make(map[string]*memCollection)}
}

func (m *MemIndex) EnsureCollection(_ context.Context, name string, dimension uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = &memCollection{dimension: dimension, points: make(map[string]Point)}
	}
	return nil
}

func (m *MemIndex) DropCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s not found", collection)
	}
	for _, p := range points {
		if c.dimension > 0 && uint64(len(p.Vector)) != c.dimension {
			return fmt.Errorf("upsert %s: vector has %d dims, want %d", collection, len(p.Vector), c.dimension)
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = p
	}
	return nil
}

func (m *MemIndex) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", collection)
	}
	results := make([]*SearchResult, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		results = append(results, &SearchResult{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if uint64(len(results)) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemIndex) Scroll(ctx context.Context, collection string) ([]*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", collection)
	}
	results := make([]*SearchResult, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		results = append(results, &SearchResult{ID: p.ID, Payload: p.Payload})
	}
	return results, nil
}

func (m *MemIndex) Count(_ context.Context, collection string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("collection %s not found", collection)
	}
	return uint64(len(c.points)), nil
}

func cosine(a, b []float32) float32 {
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
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
