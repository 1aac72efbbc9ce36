package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const contextWindow = 30 // chars either side of a value match

// FlatStore keeps every memory in one JSON file, rewritten on each
// mutation. Search is a case-insensitive substring scan.
type FlatStore struct {
	mu     sync.Mutex
	path   string // empty for memory-only (tests)
	byNS   map[string]map[string]*Memory
	closed bool
}

// NewFlatStore opens (or creates) a flat store at path. An empty path
// keeps the store memory-only.
func NewFlatStore(path string) (*FlatStore, error) {
	s := &FlatStore{
		path: path,
		byNS: make(map[string]map[string]*Memory),
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("load memory file: %w", err)
		}
	}
	return s, nil
}

func (s *FlatStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var records []*Memory
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for _, m := range records {
		ns := m.Namespace.String()
		if s.byNS[ns] == nil {
			s.byNS[ns] = make(map[string]*Memory)
		}
		s.byNS[ns][m.Key] = m
	}
	return nil
}

// flushLocked rewrites the backing file. Caller holds s.mu.
func (s *FlatStore) flushLocked() error {
	if s.path == "" {
		return nil
	}
	var records []*Memory
	for _, keys := range s.byNS {
		for _, m := range keys {
			records = append(records, m)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if a, b := records[i].Namespace.String(), records[j].Namespace.String(); a != b {
			return a < b
		}
		return records[i].Key < records[j].Key
	})
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Store upserts a record and bumps its timestamp.
func (s *FlatStore) Store(_ context.Context, ns Namespace, key string, value any, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nsKey := ns.String()
	if s.byNS[nsKey] == nil {
		s.byNS[nsKey] = make(map[string]*Memory)
	}
	m := &Memory{
		Namespace: append(Namespace(nil), ns...),
		Key:       key,
		Value:     value,
		Metadata:  metadata,
	}
	if prev, ok := s.byNS[nsKey][key]; ok {
		m.Timestamp = nextTimestamp(prev.Timestamp)
	} else {
		m.Timestamp = nextTimestamp(m.Timestamp)
	}
	s.byNS[nsKey][key] = m
	return s.flushLocked()
}

// Retrieve returns the record, or nil when absent.
func (s *FlatStore) Retrieve(_ context.Context, ns Namespace, key string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byNS[ns.String()][key]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// Delete removes a record, reporting whether it existed.
func (s *FlatStore) Delete(_ context.Context, ns Namespace, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nsKey := ns.String()
	if _, ok := s.byNS[nsKey][key]; !ok {
		return false, nil
	}
	delete(s.byNS[nsKey], key)
	if len(s.byNS[nsKey]) == 0 {
		delete(s.byNS, nsKey)
	}
	return true, s.flushLocked()
}

// ListKeys returns the namespace's keys sorted ascending.
func (s *FlatStore) ListKeys(_ context.Context, ns Namespace) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.byNS[ns.String()]))
	for k := range s.byNS[ns.String()] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ListNamespaces returns all namespaces under the given prefix, sorted.
func (s *FlatStore) ListNamespaces(_ context.Context, prefix Namespace) ([]Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Namespace
	for nsKey := range s.byNS {
		ns := ParseNamespace(nsKey)
		if ns.HasPrefix(prefix) {
			out = append(out, ns)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// Search scans the namespace subtree with case-insensitive substring
// matching over key, JSON-stringified value, and metadata. Value
// matches score 1.0, key matches 0.8, metadata-only matches 0.6.
func (s *FlatStore) Search(_ context.Context, ns Namespace, query string, limit int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var results []SearchResult
	for nsKey, keys := range s.byNS {
		if !ParseNamespace(nsKey).HasPrefix(ns) {
			continue
		}
		for _, m := range keys {
			valueText := jsonText(m.Value)
			metaText := jsonText(m.Metadata)

			var score float64
			var matchCtx string
			switch {
			case strings.Contains(strings.ToLower(valueText), q):
				score = 1.0
				matchCtx = snippet(valueText, q)
			case strings.Contains(strings.ToLower(m.Key), q):
				score = 0.8
				matchCtx = "key match"
			case strings.Contains(strings.ToLower(metaText), q):
				score = 0.6
				matchCtx = "metadata match"
			default:
				continue
			}

			cp := *m
			results = append(results, SearchResult{Memory: &cp, Score: score, MatchContext: matchCtx})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ClearNamespace bulk-deletes one namespace, returning the count.
func (s *FlatStore) ClearNamespace(_ context.Context, ns Namespace) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nsKey := ns.String()
	n := len(s.byNS[nsKey])
	if n == 0 {
		return 0, nil
	}
	delete(s.byNS, nsKey)
	return n, s.flushLocked()
}

// Stats summarizes the store.
func (s *FlatStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stats{
		TotalNamespaces: len(s.byNS),
		TopNamespaces:   make(map[string]int),
		BackendPath:     s.path,
	}
	for nsKey, keys := range s.byNS {
		st.TotalMemories += len(keys)
		st.TopNamespaces[nsKey] = len(keys)
	}
	return st, nil
}

// Close flushes the backing file. Idempotent.
func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked()
}

// jsonText renders a value the way search sees it: strings verbatim,
// everything else as compact JSON.
func jsonText(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// snippet returns a window of contextWindow chars either side of the
// first case-insensitive occurrence of q in text.
func snippet(text, q string) string {
	idx := strings.Index(strings.ToLower(text), q)
	if idx < 0 {
		return ""
	}
	start := idx - contextWindow
	if start < 0 {
		start = 0
	}
	end := idx + len(q) + contextWindow
	if end > len(text) {
		end = len(text)
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
