// Package store is the snapshot store adapter: it owns the canonical history
// log, the clear marker and the archived snapshots inside the backing
// repository. Every other component works on copies and hands them back here
// for persistence.
package store

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-activity-sync/internal/encoding"
	"github.com/justestif/go-spotify-activity-sync/internal/github"
	"github.com/justestif/go-spotify-activity-sync/internal/history"
)

// Repository paths.
const (
	HistoryPath     = "history.json"
	ClearMarkerPath = "last-clear.json"
	snapshotDir     = "frontend/static/history"
)

// ContentStore is the subset of the storage backend the adapter needs.
// *github.Client implements it.
type ContentStore interface {
	GetFile(ctx context.Context, path string) (github.File, error)
	GetFileAtRef(ctx context.Context, path, ref string) ([]byte, error)
	PutFile(ctx context.Context, path string, content []byte, message, expectedSHA string) (string, error)
	PutFiles(ctx context.Context, files []github.FileChange, message string) (string, error)
	GetCommit(ctx context.Context, sha string) (github.Commit, error)
}

// Store reads and writes the history log and its markers.
type Store struct {
	backend ContentStore
	log     zerolog.Logger
}

// New creates a Store over the given content store.
func New(backend ContentStore, log zerolog.Logger) *Store {
	return &Store{backend: backend, log: log}
}

// Backend exposes the underlying content store for components that need
// commit metadata (the backup protocol).
func (s *Store) Backend() ContentStore {
	return s.backend
}

// LoadLog reads the history log. An absent file is an empty log with an empty
// version; a malformed file also reads as empty rather than wedging every
// pass, keeping the file's version so the next persist still goes through the
// conditional write. Text fields are passed through encoding repair, since
// the storage round-trip is where double-encoding damage shows up.
func (s *Store) LoadLog(ctx context.Context) ([]history.Entry, string, error) {
	file, err := s.backend.GetFile(ctx, HistoryPath)
	if errors.Is(err, github.ErrNotFound) {
		return []history.Entry{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading history log: %w", err)
	}

	var entries []history.Entry
	if err := json.Unmarshal(file.Content, &entries); err != nil {
		s.log.Warn().Err(err).Msg("history log malformed, treating as empty")
		return []history.Entry{}, file.SHA, nil
	}

	for i := range entries {
		entries[i].User = encoding.Repair(entries[i].User)
		entries[i].Track = encoding.Repair(entries[i].Track)
		entries[i].Artist = encoding.Repair(entries[i].Artist)
	}

	return history.Clean(entries), file.SHA, nil
}

// LoadClearMarker reads the clear marker, zero-valued when absent.
func (s *Store) LoadClearMarker(ctx context.Context) (history.ClearMarker, error) {
	file, err := s.backend.GetFile(ctx, ClearMarkerPath)
	if errors.Is(err, github.ErrNotFound) {
		return history.ClearMarker{}, nil
	}
	if err != nil {
		return history.ClearMarker{}, fmt.Errorf("loading clear marker: %w", err)
	}

	var marker history.ClearMarker
	if err := json.Unmarshal(file.Content, &marker); err != nil {
		s.log.Warn().Err(err).Msg("clear marker malformed, treating as zero")
		return history.ClearMarker{}, nil
	}

	return marker, nil
}

// Persist writes the log as one commit. expectedSHA is the version LoadLog
// returned; a concurrent modification surfaces as github.ErrConflict and
// nothing is written.
func (s *Store) Persist(ctx context.Context, entries []history.Entry, expectedSHA string, added int) (string, error) {
	content, err := MarshalLog(entries)
	if err != nil {
		return "", err
	}

	newSHA, err := s.backend.PutFile(ctx, HistoryPath, content, SyncCommitMessage(added), expectedSHA)
	if err != nil {
		return "", fmt.Errorf("persisting history log: %w", err)
	}
	return newSHA, nil
}

// PersistWithMarker writes the log and the clear marker as one atomic commit.
func (s *Store) PersistWithMarker(ctx context.Context, entries []history.Entry, marker history.ClearMarker, message string) (string, error) {
	logContent, err := MarshalLog(entries)
	if err != nil {
		return "", err
	}
	markerContent, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding clear marker: %w", err)
	}

	commitSHA, err := s.backend.PutFiles(ctx, []github.FileChange{
		{Path: HistoryPath, Content: logContent},
		{Path: ClearMarkerPath, Content: markerContent},
	}, message)
	if err != nil {
		return "", fmt.Errorf("persisting log and marker: %w", err)
	}
	return commitSHA, nil
}

// LogAtRef reads the history log as it existed at the given ref. Returns
// github.ErrNotFound when the file was absent, an error when malformed (a
// snapshot of garbage is not a snapshot).
func (s *Store) LogAtRef(ctx context.Context, ref string) ([]history.Entry, error) {
	content, err := s.backend.GetFileAtRef(ctx, HistoryPath, ref)
	if err != nil {
		return nil, err
	}

	var entries []history.Entry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("parsing history at %s: %w", ref, err)
	}
	return entries, nil
}

// SnapshotPath returns the permanent path for the snapshot tagged with the
// given date tag.
func (s *Store) SnapshotPath(dateTag string) string {
	return fmt.Sprintf("%s/%s.json", snapshotDir, dateTag)
}

// Snapshot reads an existing snapshot's raw content, github.ErrNotFound when
// absent.
func (s *Store) Snapshot(ctx context.Context, dateTag string) ([]byte, string, error) {
	file, err := s.backend.GetFile(ctx, s.SnapshotPath(dateTag))
	if err != nil {
		return nil, "", err
	}
	return file.Content, file.SHA, nil
}

// WriteSnapshot stores a snapshot at its permanent path.
func (s *Store) WriteSnapshot(ctx context.Context, dateTag string, content []byte, message, expectedSHA string) error {
	if _, err := s.backend.PutFile(ctx, s.SnapshotPath(dateTag), content, message, expectedSHA); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// MarshalLog is the canonical encoding of a history log. Backup compares
// snapshot bytes, so every writer must use the same encoding.
func MarshalLog(entries []history.Entry) ([]byte, error) {
	content, err := json.MarshalIndent(history.Clean(entries), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding history log: %w", err)
	}
	return content, nil
}
