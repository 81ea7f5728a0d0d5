package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps documents in an in-process cache. It backs tests and is
// the final degradation step when neither Redis nor the local data directory
// is usable; writes do not survive a restart in that mode.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, 0)}
}

func memKey(collection, key string) string {
	return collection + "/" + key
}

func (m *MemoryStore) Get(_ context.Context, collection, key string) (map[string]any, error) {
	v, ok := m.cache.Get(memKey(collection, key))
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(v.(map[string]any)), nil
}

func (m *MemoryStore) Set(_ context.Context, collection, key string, doc map[string]any) error {
	m.cache.Set(memKey(collection, key), cloneDoc(doc), cache.NoExpiration)
	return nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, doc map[string]any) (string, error) {
	id := uuid.NewString()
	return id, m.Set(ctx, collection, id, doc)
}

func (m *MemoryStore) Query(_ context.Context, collection, orderBy string, desc bool, limit int) ([]map[string]any, error) {
	prefix := collection + "/"
	var docs []keyedDoc
	for k, item := range m.cache.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		docs = append(docs, keyedDoc{
			key: strings.TrimPrefix(k, prefix),
			doc: cloneDoc(item.Object.(map[string]any)),
		})
	}
	return sortDocs(docs, orderBy, desc, limit), nil
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }

// cloneDoc copies one level deep so callers cannot mutate stored state
// through a returned document. Nested values are shared; ledger documents
// are rebuilt on every write so this is sufficient.
func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
