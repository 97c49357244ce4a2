package scratchpad

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultHistoryLimit bounds the history ring per section.
const DefaultHistoryLimit = 50

// HistoryEntry is one superseded value, stored append-only. Rollback never
// rewrites history; restoring an old value appends a *new* entry.
type HistoryEntry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Envelope  Envelope  `json:"envelope"`
}

// appendHistory writes the prior value into the section's history ring,
// under the project's history directory, pruning entries beyond limit.
func appendHistory(dir string, prior Envelope, reason string, limit int) error {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("scratchpad: ensure history dir: %w", err)
	}
	next, err := nextHistoryIndex(dir)
	if err != nil {
		return err
	}
	entry := HistoryEntry{Index: next, Timestamp: time.Now().UTC(), Reason: reason, Envelope: prior}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("scratchpad: encode history entry: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("entry-%d.yaml", next))
	if err := atomicWrite(path, data); err != nil {
		return err
	}
	return pruneHistory(dir, limit)
}

func nextHistoryIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scratchpad: list history: %w", err)
	}
	max := -1
	for _, e := range entries {
		if idx, ok := parseHistoryIndex(e.Name()); ok && idx > max {
			max = idx
		}
	}
	return max + 1, nil
}

func parseHistoryIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "entry-") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "entry-"), filepath.Ext(name))
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func pruneHistory(dir string, limit int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scratchpad: list history: %w", err)
	}
	type indexed struct {
		idx  int
		name string
	}
	var all []indexed
	for _, e := range entries {
		if idx, ok := parseHistoryIndex(e.Name()); ok {
			all = append(all, indexed{idx, e.Name()})
		}
	}
	if len(all) <= limit {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].idx < all[j].idx })
	excess := len(all) - limit
	for _, item := range all[:excess] {
		_ = os.Remove(filepath.Join(dir, item.name))
	}
	return nil
}

// readHistory returns all retained history entries, oldest first.
func readHistory(dir string) ([]HistoryEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scratchpad: list history: %w", err)
	}
	var out []HistoryEntry
	for _, e := range entries {
		idx, ok := parseHistoryIndex(e.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("scratchpad: read history entry: %w", err)
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("scratchpad: parse history entry: %w", err)
		}
		entry.Index = idx
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// historyDirFor resolves the history ring directory for one section of
// one project.
func (s *Store) historyDirFor(sec Section, projectID string) string {
	return s.cfg.HistoryDir(sec.ID + "/" + projectID)
}

// History returns the retained superseded values for a section, oldest
// first. A section with no history yields an empty slice.
func (s *Store) History(sec Section, projectID string) ([]HistoryEntry, error) {
	return readHistory(s.historyDirFor(sec, projectID))
}

// Rollback replaces the section's current value with the history entry at
// index. The replaced current value is itself appended to history as a new
// entry, and the restored envelope's notes name the entry it came from;
// history itself is never rewritten.
func (s *Store) Rollback(sec Section, projectID string, index int) (Envelope, error) {
	entries, err := s.History(sec, projectID)
	if err != nil {
		return Envelope{}, err
	}
	var chosen *HistoryEntry
	for i := range entries {
		if entries[i].Index == index {
			chosen = &entries[i]
			break
		}
	}
	if chosen == nil {
		return Envelope{}, fmt.Errorf("scratchpad: no history entry %d for %s", index, sec.ID)
	}
	return s.Set(sec, projectID, chosen.Envelope.Body, map[string]string{
		"rollback_of": fmt.Sprintf("entry-%d", index),
	})
}
