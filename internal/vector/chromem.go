// Package vector provides the embedded similarity index used for task
// dedup, memory retrieval and ticket search. Vectors are computed by the
// LLM provider; this package only stores and queries them.
package vector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// Collection names, one per embedded entity kind.
const (
	CollectionMemories = "memories"
	CollectionTasks    = "tasks"
	CollectionTickets  = "tickets"
)

// Index implements core.VectorIndex on chromem-go. Collections are created
// lazily on first use and persist alongside the SQLite state when a path
// is configured.
type Index struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewIndex opens the vector database. An empty persistPath keeps everything
// in memory, which tests rely on.
func NewIndex(persistPath string) (*Index, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("opening vector database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Index{db: db, collections: map[string]*chromem.Collection{}}, nil
}

// precomputedOnly rejects implicit embedding generation. Every document and
// query in this index carries an explicit vector.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectors are precomputed; no embedding function available")
}

func (i *Index) collection(name string) (*chromem.Collection, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok := i.collections[name]; ok {
		return c, nil
	}
	c, err := i.db.GetOrCreateCollection(name, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	i.collections[name] = c
	return c, nil
}

// Upsert stores or replaces one vector with its payload.
func (i *Index) Upsert(ctx context.Context, collection, id string, vec []float32, payload map[string]string) error {
	c, err := i.collection(collection)
	if err != nil {
		return err
	}
	content := payload["content"]
	if content == "" {
		content = id
	}
	// chromem has no in-place update; drop any previous version first.
	_ = c.Delete(ctx, nil, nil, id)
	if err := c.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: vec,
		Metadata:  payload,
	}); err != nil {
		return fmt.Errorf("upserting %s into %s: %w", id, collection, err)
	}
	return nil
}

// Search returns up to k hits above minScore, best first.
func (i *Index) Search(ctx context.Context, collection string, vec []float32, k int, minScore float64) ([]core.VectorHit, error) {
	c, err := i.collection(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	// chromem errors when asked for more results than stored documents.
	if n := c.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	var hits []core.VectorHit
	for _, r := range results {
		score := float64(r.Similarity)
		if score < minScore {
			continue
		}
		hits = append(hits, core.VectorHit{
			ID:      r.ID,
			Score:   score,
			Payload: r.Metadata,
		})
	}
	return hits, nil
}

// Delete removes one vector; deleting a missing id is not an error.
func (i *Index) Delete(ctx context.Context, collection, id string) error {
	c, err := i.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, collection, err)
	}
	return nil
}
