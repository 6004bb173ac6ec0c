package vectorstore

import "context"

// Index is the vector engine contract shared by the chunk store and the
// long-term memory store. Collections are independent namespaces.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	DropCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns up to topK hits ordered by descending score. Asking for
	// more than the collection holds returns everything available.
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*SearchResult, error)
	// Scroll returns every point in the collection in storage order.
	Scroll(ctx context.Context, collection string) ([]*SearchResult, error)
	Count(ctx context.Context, collection string) (uint64, error)
}

// Point is a vector with its payload. ID is caller-defined; engines that
// need a specific ID format map it internally.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Distance converts the cosine similarity score into a distance where
// smaller means closer.
func (r *SearchResult) Distance() float64 {
	return 1 - float64(r.Score)
}

// String returns the payload value under key as a string, or "".
func (r *SearchResult) String(key string) string {
	s, _ := r.Payload[key].(string)
	return s
}
