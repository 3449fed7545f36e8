// Package archive implements the clear/backup protocol: the scheduled log
// reset that opens a new epoch, and the on-demand recovery of the pre-reset
// state from the backing repository's commit history.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-activity-sync/internal/github"
	"github.com/justestif/go-spotify-activity-sync/internal/history"
	"github.com/justestif/go-spotify-activity-sync/internal/store"
)

// Commit message formats. The clear message is the durable record the backup
// operation parses later; changing it breaks recovery of older clears.
const (
	clearMessageFormat  = "🗑️ [%s] Clear history (daily reset) [skip ci]"
	backupMessageFormat = "💾 Backup history [%s] from %s"
)

// reportingOffset shifts timestamps into the fixed UTC+7 reporting timezone
// that date tags are derived in.
var reportingOffset = time.FixedZone("UTC+7", 7*60*60)

var (
	clearPattern   = regexp.MustCompile(`🗑️\s*\[\d{8}\]`)
	dateTagPattern = regexp.MustCompile(`\[(\d{8})\]`)
)

// Sentinel errors.
var (
	// ErrNotClearCommit is returned when backup is requested against a commit
	// that is not a clear commit.
	ErrNotClearCommit = errors.New("commit is not a clear-history commit")

	// ErrNoParent is returned when the clear commit has no parent; there is
	// no pre-clear state to recover.
	ErrNoParent = errors.New("clear commit has no parent")

	// ErrNoHistory is returned when no usable history log exists at the
	// parent commit.
	ErrNoHistory = errors.New("no history found at parent commit")
)

// Service runs clear and backup operations.
type Service struct {
	store *store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates an archive service over the snapshot store.
func New(st *store.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClearResult reports one clear operation.
type ClearResult struct {
	ItemsRemoved int    `json:"itemsRemoved"`
	DateTag      string `json:"dateTag"`
	Timestamp    int64  `json:"timestamp"`
}

// Clear wipes the history log and advances the clear marker, as one atomic
// commit. The current item count is read first purely for reporting. Running
// Clear against an already-empty log is a second clear commit with
// ItemsRemoved zero, not an error.
func (s *Service) Clear(ctx context.Context) (ClearResult, error) {
	entries, _, err := s.store.LoadLog(ctx)
	if err != nil {
		return ClearResult{}, err
	}

	now := s.now()
	timestamp := now.UnixMilli()
	dateTag := DateTag(now)
	message := fmt.Sprintf(clearMessageFormat, dateTag)

	marker := history.ClearMarker{LastClearTimestamp: timestamp}
	if _, err := s.store.PersistWithMarker(ctx, []history.Entry{}, marker, message); err != nil {
		return ClearResult{}, err
	}

	s.log.Info().
		Int("items_removed", len(entries)).
		Str("date_tag", dateTag).
		Int64("timestamp", timestamp).
		Msg("history cleared")

	return ClearResult{
		ItemsRemoved: len(entries),
		DateTag:      dateTag,
		Timestamp:    timestamp,
	}, nil
}

// BackupResult reports one backup operation.
type BackupResult struct {
	Path         string `json:"path"`
	DateTag      string `json:"dateTag"`
	SourceCommit string `json:"sourceCommit"`
	Items        int    `json:"items"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// Backup recovers the log as it existed immediately before the given clear
// commit and stores it at a permanent snapshot path keyed by the clear's date
// tag. Re-running against the same commit is a no-op once the snapshot
// exists with identical content.
func (s *Service) Backup(ctx context.Context, commitSHA string) (BackupResult, error) {
	backend := s.store.Backend()

	commit, err := backend.GetCommit(ctx, commitSHA)
	if err != nil {
		return BackupResult{}, fmt.Errorf("resolving commit %s: %w", commitSHA, err)
	}

	if !IsClearCommit(commit.Message) {
		return BackupResult{}, fmt.Errorf("%w: %q", ErrNotClearCommit, commit.Message)
	}

	if len(commit.Parents) == 0 {
		return BackupResult{}, ErrNoParent
	}
	parentSHA := commit.Parents[0]

	entries, err := s.store.LogAtRef(ctx, parentSHA)
	if err != nil {
		if errors.Is(err, github.ErrNotFound) {
			return BackupResult{}, ErrNoHistory
		}
		return BackupResult{}, fmt.Errorf("%w: %v", ErrNoHistory, err)
	}

	dateTag := extractDateTag(commit)

	content, err := store.MarshalLog(entries)
	if err != nil {
		return BackupResult{}, err
	}

	result := BackupResult{
		Path:         s.store.SnapshotPath(dateTag),
		DateTag:      dateTag,
		SourceCommit: commitSHA,
		Items:        len(entries),
	}

	existing, existingSHA, err := s.store.Snapshot(ctx, dateTag)
	switch {
	case err == nil && bytes.Equal(existing, content):
		s.log.Info().Str("path", result.Path).Msg("snapshot already exists with same content, skipping")
		result.Skipped = true
		return result, nil
	case err != nil && !errors.Is(err, github.ErrNotFound):
		return BackupResult{}, fmt.Errorf("checking existing snapshot: %w", err)
	}

	message := fmt.Sprintf(backupMessageFormat, dateTag, commitSHA)
	if err := s.store.WriteSnapshot(ctx, dateTag, content, message, existingSHA); err != nil {
		return BackupResult{}, err
	}

	s.log.Info().
		Str("path", result.Path).
		Str("source_commit", commitSHA).
		Int("items", result.Items).
		Msg("snapshot written")

	return result, nil
}

// IsClearCommit reports whether a commit message marks a clear operation.
func IsClearCommit(message string) bool {
	return strings.Contains(message, "Clear history") || clearPattern.MatchString(message)
}

// extractDateTag derives the snapshot's date tag, preferring the tag embedded
// in the clear commit's message and falling back to the commit's author date.
// When both disagree (a clear committed just past midnight), the message tag
// wins.
func extractDateTag(commit github.Commit) string {
	if m := dateTagPattern.FindStringSubmatch(commit.Message); m != nil {
		return m[1]
	}

	date := commit.AuthorDate
	if date.IsZero() {
		date = time.Now()
	}
	return date.UTC().Format("02012006")
}

// DateTag formats a time as a ddmmyyyy tag in the UTC+7 reporting timezone.
func DateTag(t time.Time) string {
	return t.In(reportingOffset).Format("02012006")
}
