package registry

import "time"

// WasSent reports whether content has already been delivered to the
// given recipient, as far as the bounded history remembers.
func (r *Registry) WasSent(content, recipient string) bool {
	hash := hashContent(content)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.history {
		rec := &r.history[i]
		if rec.ContentHash == hash && contains(rec.Recipients, recipient) {
			return true
		}
	}
	return false
}

// RecordSent appends a delivery record to the dedup FIFO and the
// messages journal. The FIFO evicts oldest-first at capacity.
func (r *Registry) RecordSent(content string, recipients []string) error {
	rec := MessageRecord{
		ContentHash: hashContent(content),
		Recipients:  append([]string(nil), recipients...),
		Timestamp:   time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, rec)
	if over := len(r.history) - r.historyCap; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
	return r.appendMessageLocked(rec)
}

// FilterUnsent returns the recipients that have never been paired with
// this content in the history, preserving input order.
func (r *Registry) FilterUnsent(content string, recipients []string) []string {
	hash := hashContent(content)

	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := make(map[string]bool)
	for i := range r.history {
		rec := &r.history[i]
		if rec.ContentHash != hash {
			continue
		}
		for _, rcpt := range rec.Recipients {
			sent[rcpt] = true
		}
	}

	out := make([]string, 0, len(recipients))
	for _, rcpt := range recipients {
		if !sent[rcpt] {
			out = append(out, rcpt)
		}
	}
	return out
}

// RecentMessages returns up to limit records, newest first.
func (r *Registry) RecentMessages(limit int) []MessageRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]MessageRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		rec := r.history[i]
		rec.Recipients = append([]string(nil), r.history[i].Recipients...)
		out = append(out, rec)
	}
	return out
}
