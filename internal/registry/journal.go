package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/termhive/termhive/internal/metrics"
)

const journalWriteAttempts = 3

// Journal persists registry state as JSONL files: agents and teams are
// rewritten in full on every mutation (small N), messages are
// append-only.
type Journal struct {
	agentsPath   string
	teamsPath    string
	messagesPath string
}

// NewJournal creates a Journal rooted at the given file paths.
func NewJournal(agentsPath, teamsPath, messagesPath string) *Journal {
	return &Journal{
		agentsPath:   agentsPath,
		teamsPath:    teamsPath,
		messagesPath: messagesPath,
	}
}

// newJournalBackoff is the retry schedule for journal writes: local
// disk hiccups resolve fast or not at all.
func newJournalBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.Multiplier = 2.0
	b.Reset()
	return b
}

// retryWrite runs fn up to journalWriteAttempts times with backoff.
func retryWrite(fn func() error) error {
	bo := newJournalBackoff()
	var err error
	for attempt := 0; attempt < journalWriteAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(bo.NextBackOff())
	}
	metrics.JournalWriteFailures.Inc()
	return err
}

// rewrite atomically replaces a journal file with one JSON line per record.
func rewrite[T any](path string, records []T) error {
	return retryWrite(func() error {
		tmp := path + ".tmp"
		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("open %s: %w", tmp, err)
		}
		w := bufio.NewWriter(f)
		enc := json.NewEncoder(w)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				_ = f.Close()
				return fmt.Errorf("encode record: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
}

// appendLine appends a single JSON line to a journal file.
func appendLine[T any](path string, rec T) error {
	return retryWrite(func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return json.NewEncoder(f).Encode(rec)
	})
}

// readLines loads every well-formed JSON line from a journal file.
// Malformed lines are skipped with a warning; a missing file is empty.
func readLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed journal line",
				"journal", filepath.Base(path),
				"line", lineNo,
				"error", err,
			)
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func (j *Journal) writeAgents(agents []Agent) error {
	return rewrite(j.agentsPath, agents)
}

func (j *Journal) writeTeams(teams []Team) error {
	return rewrite(j.teamsPath, teams)
}

func (j *Journal) appendMessage(rec MessageRecord) error {
	return appendLine(j.messagesPath, rec)
}

func (j *Journal) writeMessages(records []MessageRecord) error {
	return rewrite(j.messagesPath, records)
}

func (j *Journal) loadAgents() ([]Agent, error) {
	return readLines[Agent](j.agentsPath)
}

func (j *Journal) loadTeams() ([]Team, error) {
	return readLines[Team](j.teamsPath)
}

func (j *Journal) loadMessages() ([]MessageRecord, error) {
	return readLines[MessageRecord](j.messagesPath)
}

// persistAgentsLocked mirrors the agent table to the journal. Caller
// holds r.mu.
func (r *Registry) persistAgentsLocked() error {
	if r.journal == nil {
		return nil
	}
	agents := make([]Agent, 0, len(r.agentOrder))
	for _, name := range r.agentOrder {
		agents = append(agents, *cloneAgent(r.agents[name]))
	}
	if err := r.journal.writeAgents(agents); err != nil {
		return fmt.Errorf("%w: agents journal: %v", ErrPersist, err)
	}
	return nil
}

// persistTeamsLocked mirrors the team table to the journal. Caller
// holds r.mu.
func (r *Registry) persistTeamsLocked() error {
	if r.journal == nil {
		return nil
	}
	teams := make([]Team, 0, len(r.teamOrder))
	for _, name := range r.teamOrder {
		teams = append(teams, *cloneTeam(r.teams[name]))
	}
	if err := r.journal.writeTeams(teams); err != nil {
		return fmt.Errorf("%w: teams journal: %v", ErrPersist, err)
	}
	return nil
}

// appendMessageLocked appends one dedup record. Caller holds r.mu.
func (r *Registry) appendMessageLocked(rec MessageRecord) error {
	if r.journal == nil {
		return nil
	}
	if err := r.journal.appendMessage(rec); err != nil {
		return fmt.Errorf("%w: messages journal: %v", ErrPersist, err)
	}
	return nil
}

// replay loads all three journals into memory at startup.
func (r *Registry) replay() error {
	agents, err := r.journal.loadAgents()
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	for i := range agents {
		a := agents[i]
		if _, dup := r.agents[a.Name]; !dup {
			r.agentOrder = append(r.agentOrder, a.Name)
		}
		r.agents[a.Name] = &a
	}

	teams, err := r.journal.loadTeams()
	if err != nil {
		return fmt.Errorf("load teams: %w", err)
	}
	for i := range teams {
		t := teams[i]
		if _, dup := r.teams[t.Name]; !dup {
			r.teamOrder = append(r.teamOrder, t.Name)
		}
		r.teams[t.Name] = &t
	}

	messages, err := r.journal.loadMessages()
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if over := len(messages) - r.historyCap; over > 0 {
		messages = messages[over:]
	}
	r.history = messages

	slog.Info("registry journals replayed",
		"agents", len(r.agents),
		"teams", len(r.teams),
		"messages", len(r.history),
	)
	return nil
}
