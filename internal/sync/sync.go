// Package sync drives one synchronization pass: refresh credentials, fetch
// and normalize each user's recent plays, merge into the shared log, persist
// once.
package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/go-spotify-activity-sync/internal/history"
	"github.com/justestif/go-spotify-activity-sync/internal/spotify"
)

// ActivityClient is an authenticated upstream client for one user.
// *spotify.Client implements it.
type ActivityClient interface {
	Profile(ctx context.Context) spotify.ProfileResult
	Recent(ctx context.Context, afterMs int64) spotify.RecentResult
	CurrentlyPlaying(ctx context.Context) spotify.PlayingResult
}

// ClientFactory builds an ActivityClient for a user's refresh token. A
// factory error means the credential refresh failed; the user is skipped for
// this pass.
type ClientFactory func(ctx context.Context, refreshToken string) (ActivityClient, error)

// Store is the slice of the snapshot store a pass needs.
type Store interface {
	LoadLog(ctx context.Context) ([]history.Entry, string, error)
	LoadClearMarker(ctx context.Context) (history.ClearMarker, error)
	Persist(ctx context.Context, entries []history.Entry, expectedSHA string, added int) (string, error)
}

// Service orchestrates sync passes across all configured users.
type Service struct {
	store   Store
	factory ClientFactory
	users   map[string]string // label -> refresh token
	log     zerolog.Logger
}

// New creates a sync service. users maps a user label to its refresh token.
func New(st Store, factory ClientFactory, users map[string]string, log zerolog.Logger) *Service {
	return &Service{
		store:   st,
		factory: factory,
		users:   users,
		log:     log,
	}
}

// Result summarizes one pass.
type Result struct {
	PassID         string
	UsersProcessed int
	UsersSkipped   int
	Added          int
	Total          int
	Persisted      bool
}

// Summary renders the result as a short plain-text report.
func (r Result) Summary() string {
	return fmt.Sprintf("pass %s: %d users processed, %d skipped, %d tracks added, %d total",
		r.PassID, r.UsersProcessed, r.UsersSkipped, r.Added, r.Total)
}

// Run executes one synchronization pass. Upstream reads for different users
// run concurrently; they only produce per-user batches. The merge against
// the shared working log happens afterwards, sequentially, so batches never
// race on the log. The pass persists at most once, and only when something
// was added. Per-user failures are logged and skipped; only a storage
// failure aborts the pass.
func (s *Service) Run(ctx context.Context) (Result, error) {
	result := Result{PassID: uuid.NewString()}
	log := s.log.With().Str("pass_id", result.PassID).Logger()

	entries, logSHA, err := s.store.LoadLog(ctx)
	if err != nil {
		return result, err
	}
	marker, err := s.store.LoadClearMarker(ctx)
	if err != nil {
		return result, err
	}

	// Stale pre-clear entries in the stored log are dropped up front.
	entries = history.FilterAfter(entries, marker.LastClearTimestamp)

	labels := s.sortedLabels()
	batches := make([][]history.Entry, len(labels))
	failed := make([]bool, len(labels))

	g, gctx := errgroup.WithContext(ctx)
	for i, label := range labels {
		g.Go(func() error {
			batch, err := s.fetchUser(gctx, label, s.users[label], marker)
			if err != nil {
				log.Warn().Err(err).Str("user", label).Msg("user skipped")
				failed[i] = true
				return nil
			}
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	var incoming []history.Entry
	for i := range labels {
		if failed[i] {
			result.UsersSkipped++
			continue
		}
		result.UsersProcessed++
		incoming = append(incoming, batches[i]...)
	}

	merged, added := history.Merge(entries, incoming, marker)
	result.Added = added
	result.Total = len(merged)

	if added > 0 {
		if _, err := s.store.Persist(ctx, merged, logSHA, added); err != nil {
			return result, fmt.Errorf("persisting pass result: %w", err)
		}
		result.Persisted = true
	}

	log.Info().
		Int("users_processed", result.UsersProcessed).
		Int("users_skipped", result.UsersSkipped).
		Int("added", result.Added).
		Int("total", result.Total).
		Bool("persisted", result.Persisted).
		Msg("sync pass complete")

	return result, nil
}

// fetchUser fetches and normalizes one user's recent plays. Credential
// refresh failure and profile failure are both fatal for the user only; an
// empty or failed recent read just yields an empty batch.
func (s *Service) fetchUser(ctx context.Context, label, refreshToken string, marker history.ClearMarker) ([]history.Entry, error) {
	client, err := s.factory(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refreshing credentials for %s: %w", label, err)
	}

	profileResult := client.Profile(ctx)
	if profileResult.Status != spotify.StatusOK {
		return nil, fmt.Errorf("fetching profile for %s: %w", label, profileResult.Err)
	}
	profile := profileResult.Profile

	recent := client.Recent(ctx, marker.LastClearTimestamp)
	if recent.Status == spotify.StatusFailed {
		s.log.Warn().Err(recent.Err).Str("user", label).Msg("recently-played fetch failed, treating as empty")
		return nil, nil
	}

	batch := make([]history.Entry, 0, len(recent.Items))
	for _, item := range recent.Items {
		if entry, ok := history.NormalizeRecent(item, profile); ok {
			batch = append(batch, entry)
		}
	}
	return batch, nil
}

// Live builds the currently-listening view for all users. Failures skip the
// affected user; the response is whatever could be fetched.
func (s *Service) Live(ctx context.Context) []history.LiveEntry {
	labels := s.sortedLabels()
	results := make([]*history.LiveEntry, len(labels))

	g, gctx := errgroup.WithContext(ctx)
	for i, label := range labels {
		g.Go(func() error {
			client, err := s.factory(gctx, s.users[label])
			if err != nil {
				s.log.Warn().Err(err).Str("user", label).Msg("live: user skipped")
				return nil
			}

			profileResult := client.Profile(gctx)
			if profileResult.Status != spotify.StatusOK {
				return nil
			}

			playing := client.CurrentlyPlaying(gctx)
			if playing.Status != spotify.StatusOK {
				return nil
			}

			if entry, ok := history.NormalizeCurrentlyPlaying(playing.Item, profileResult.Profile); ok {
				results[i] = &entry
			}
			return nil
		})
	}
	_ = g.Wait()

	live := make([]history.LiveEntry, 0, len(labels))
	for _, entry := range results {
		if entry != nil {
			live = append(live, *entry)
		}
	}
	return live
}

// History returns the persisted log filtered to the current epoch, deduped
// and sorted for serving.
func (s *Service) History(ctx context.Context) ([]history.Entry, error) {
	entries, _, err := s.store.LoadLog(ctx)
	if err != nil {
		return nil, err
	}
	marker, err := s.store.LoadClearMarker(ctx)
	if err != nil {
		return nil, err
	}

	entries = history.FilterAfter(entries, marker.LastClearTimestamp)
	entries = history.Dedupe(entries)
	history.Sort(entries)
	return entries, nil
}

func (s *Service) sortedLabels() []string {
	labels := make([]string, 0, len(s.users))
	for label := range s.users {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
