package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileStore persists each collection as one JSON file in a data directory,
// the local-storage counterpart to the remote document store. Files are
// rewritten whole on every Set; fine for the per-user record sizes involved.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(collection string) string {
	return filepath.Join(f.dir, collection+".json")
}

// load reads a whole collection; a missing file is an empty collection.
func (f *FileStore) load(collection string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(f.path(collection))
	if os.IsNotExist(err) {
		return map[string]map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}
	docs := map[string]map[string]any{}
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse collection %s: %w", collection, err)
	}
	return docs, nil
}

func (f *FileStore) save(collection string, docs map[string]map[string]any) error {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection %s: %w", collection, err)
	}
	if err := os.WriteFile(f.path(collection), data, 0o644); err != nil {
		return fmt.Errorf("failed to write collection %s: %w", collection, err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, collection, key string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, err := f.load(collection)
	if err != nil {
		return nil, err
	}
	doc, ok := docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (f *FileStore) Set(_ context.Context, collection, key string, doc map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, err := f.load(collection)
	if err != nil {
		return err
	}
	docs[key] = normalizeDoc(doc)
	return f.save(collection, docs)
}

func (f *FileStore) Add(ctx context.Context, collection string, doc map[string]any) (string, error) {
	id := uuid.NewString()
	return id, f.Set(ctx, collection, id, doc)
}

func (f *FileStore) Query(_ context.Context, collection, orderBy string, desc bool, limit int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loaded, err := f.load(collection)
	if err != nil {
		return nil, err
	}
	docs := make([]keyedDoc, 0, len(loaded))
	for k, d := range loaded {
		docs = append(docs, keyedDoc{key: k, doc: d})
	}
	return sortDocs(docs, orderBy, desc, limit), nil
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) Close() error { return nil }

// normalizeDoc round-trips a document through JSON so in-memory values
// (time.Time, int, nested structs) come back in the same shape a reload
// from disk would produce.
func normalizeDoc(doc map[string]any) map[string]any {
	data, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return doc
	}
	return out
}
