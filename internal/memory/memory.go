// Package memory is the cross-agent memory store: namespaced key/value
// records with substring and full-text search. Two backends satisfy
// the same contract, a flat JSON file and an embedded SQLite index.
package memory

import (
	"context"
	"strings"
	"time"
)

// Memory is one stored record. The pair (Namespace, Key) is unique.
type Memory struct {
	Namespace Namespace      `json:"namespace"`
	Key       string         `json:"key"`
	Value     any            `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchResult pairs a memory with its relevance score in (0,1] and an
// optional snippet of the matching context.
type SearchResult struct {
	Memory       *Memory `json:"memory"`
	Score        float64 `json:"score"`
	MatchContext string  `json:"match_context,omitempty"`
}

// Stats summarizes a store.
type Stats struct {
	TotalMemories   int            `json:"total_memories"`
	TotalNamespaces int            `json:"total_namespaces"`
	TopNamespaces   map[string]int `json:"top_namespaces"`
	BackendPath     string         `json:"backend_path"`
}

// Store is the memory store contract. Search treats the namespace as a
// prefix: all descendant namespaces are considered. Close releases
// resources and is idempotent.
type Store interface {
	// Store upserts a record and bumps its timestamp.
	Store(ctx context.Context, ns Namespace, key string, value any, metadata map[string]any) error
	// Retrieve returns the record, or nil when absent.
	Retrieve(ctx context.Context, ns Namespace, key string) (*Memory, error)
	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, ns Namespace, key string) (bool, error)
	// ListKeys returns the namespace's keys sorted ascending.
	ListKeys(ctx context.Context, ns Namespace) ([]string, error)
	// ListNamespaces returns all namespaces under the given prefix.
	ListNamespaces(ctx context.Context, prefix Namespace) ([]Namespace, error)
	// Search scans the namespace subtree for the query.
	Search(ctx context.Context, ns Namespace, query string, limit int) ([]SearchResult, error)
	// ClearNamespace bulk-deletes one namespace, returning the count.
	ClearNamespace(ctx context.Context, ns Namespace) (int, error)
	// Stats summarizes the store.
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Namespace is an ordered path of segments keying the store.
type Namespace []string

// String encodes the namespace as a /-joined path; the root is "/".
func (n Namespace) String() string {
	if len(n) == 0 {
		return "/"
	}
	return strings.Join(n, "/")
}

// ParseNamespace splits a /-joined path back into segments.
func ParseNamespace(s string) Namespace {
	if s == "" || s == "/" {
		return Namespace{}
	}
	return Namespace(strings.Split(strings.Trim(s, "/"), "/"))
}

// HasPrefix reports whether n lives under the given prefix namespace.
// Every namespace lives under the root.
func (n Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(n) {
		return false
	}
	for i, seg := range prefix {
		if n[i] != seg {
			return false
		}
	}
	return true
}

// nextTimestamp returns a timestamp strictly after prev, so that an
// upsert always observably bumps the record.
func nextTimestamp(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
