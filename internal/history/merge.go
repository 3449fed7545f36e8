package history

import (
	"fmt"
	"sort"
)

// DefaultDedupWindow is how close two timestamps for the same user and track
// URI may be before they count as the same play event. Upstream reports the
// same play with up to ~1s of skew between overlapping fetch windows.
const DefaultDedupWindow = 1000 // milliseconds

// MergeOption configures a Merge call.
type MergeOption func(*mergeConfig)

type mergeConfig struct {
	dedupWindow int64
}

// WithDedupWindow overrides the fuzzy-duplicate timestamp window.
func WithDedupWindow(ms int64) MergeOption {
	return func(c *mergeConfig) {
		c.dedupWindow = ms
	}
}

// Merge folds a batch of normalized entries into the log and returns the
// updated log together with how many entries were actually added.
//
// Per incoming entry, in order: entries at or before the clear marker are
// discarded; entries matching an existing entry on UserID and URI with
// timestamps closer than the dedup window are discarded as duplicates;
// everything else is appended. A final pass removes exact-key duplicates
// (userId|uri|timestamp) and sorts the log descending by timestamp.
func Merge(log []Entry, batch []Entry, marker ClearMarker, opts ...MergeOption) ([]Entry, int) {
	cfg := mergeConfig{dedupWindow: DefaultDedupWindow}
	for _, opt := range opts {
		opt(&cfg)
	}

	merged := Clean(log)
	added := 0

	for _, entry := range batch {
		if marker.LastClearTimestamp > 0 && entry.Timestamp <= marker.LastClearTimestamp {
			continue
		}
		if containsFuzzy(merged, entry, cfg.dedupWindow) {
			continue
		}
		merged = append(merged, entry)
		added++
	}

	merged = Dedupe(merged)
	Sort(merged)
	return merged, added
}

// containsFuzzy reports whether the log already holds the same play event:
// same user, same track URI, timestamps within the window.
func containsFuzzy(log []Entry, entry Entry, window int64) bool {
	for _, existing := range log {
		if existing.UserID != entry.UserID || existing.URI != entry.URI {
			continue
		}
		delta := existing.Timestamp - entry.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta < window {
			return true
		}
	}
	return false
}

// Dedupe removes exact duplicates, keeping first occurrence. The exact key
// (userId|uri|timestamp) guards against duplicates slipping in from
// overlapping upstream pages within the same batch; two genuinely distinct
// plays never collide on it.
func Dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	unique := make([]Entry, 0, len(entries))

	for _, entry := range entries {
		key := fmt.Sprintf("%s|%s|%d", entry.UserID, entry.URI, entry.Timestamp)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, entry)
	}

	return unique
}

// Sort orders entries descending by timestamp, most recent first.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
}

// FilterAfter returns the entries strictly newer than the given timestamp.
// Used to drop pre-clear entries from an already-loaded log.
func FilterAfter(entries []Entry, ts int64) []Entry {
	if ts <= 0 {
		return Clean(entries)
	}
	filtered := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp > ts {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
