// Package store defines the document persistence contract consumed by the
// ledger, sensor recorder and marketplace, together with three
// interchangeable backends: Redis, a local JSON file per collection, and an
// in-memory cache. A resolver picks the backend at startup and degrades
// toward memory when remote or local storage is unavailable.
package store

import (
	"context"
	"errors"
	"sort"
)

// ErrNotFound is returned by Get for an absent key. Callers treat it as
// "create lazily", never as a failure.
var ErrNotFound = errors.New("document not found")

// Store is the persistence collaborator contract: keyed documents grouped in
// named collections, plus an order-by-limit query. Documents are plain JSON
// object maps; backends must store them such that a Get after Set round-trips
// through JSON (numbers come back as float64).
type Store interface {
	Get(ctx context.Context, collection, key string) (map[string]any, error)
	Set(ctx context.Context, collection, key string, doc map[string]any) error
	// Add stores a document under a generated id and returns the id.
	Add(ctx context.Context, collection string, doc map[string]any) (string, error)
	// Query returns up to limit documents ordered by the named field,
	// descending when desc is set. Ties are broken by document key ascending
	// so the order is deterministic across backends.
	Query(ctx context.Context, collection, orderBy string, desc bool, limit int) ([]map[string]any, error)
	// Name identifies the backend for logs and the health endpoint.
	Name() string
	Close() error
}

type keyedDoc struct {
	key string
	doc map[string]any
}

// sortDocs orders documents by the named field. Numeric fields compare as
// float64, anything else by its string form (RFC3339 timestamps order
// correctly this way). Missing fields sort last regardless of direction.
func sortDocs(docs []keyedDoc, orderBy string, desc bool, limit int) []map[string]any {
	sort.SliceStable(docs, func(a, b int) bool {
		av, aok := docs[a].doc[orderBy]
		bv, bok := docs[b].doc[orderBy]
		if aok != bok {
			return aok
		}
		if aok {
			if c := compareValues(av, bv); c != 0 {
				if desc {
					return c > 0
				}
				return c < 0
			}
		}
		return docs[a].key < docs[b].key
	})
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = d.doc
	}
	return out
}

func compareValues(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, bs := stringify(a), stringify(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
