package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	zspotify "github.com/zmb3/spotify/v2"

	"github.com/justestif/go-spotify-activity-sync/internal/history"
	"github.com/justestif/go-spotify-activity-sync/internal/spotify"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	entries  []history.Entry
	sha      string
	marker   history.ClearMarker
	persists int
	lastSHA  string
	failPut  error
}

func (f *fakeStore) LoadLog(context.Context) ([]history.Entry, string, error) {
	return append([]history.Entry(nil), f.entries...), f.sha, nil
}

func (f *fakeStore) LoadClearMarker(context.Context) (history.ClearMarker, error) {
	return f.marker, nil
}

func (f *fakeStore) Persist(_ context.Context, entries []history.Entry, expectedSHA string, added int) (string, error) {
	if f.failPut != nil {
		return "", f.failPut
	}
	f.entries = entries
	f.persists++
	f.lastSHA = expectedSHA
	return "new-sha", nil
}

// fakeClient serves canned upstream results.
type fakeClient struct {
	profile spotify.ProfileResult
	recent  spotify.RecentResult
	playing spotify.PlayingResult
}

func (f *fakeClient) Profile(context.Context) spotify.ProfileResult { return f.profile }

func (f *fakeClient) Recent(context.Context, int64) spotify.RecentResult { return f.recent }

func (f *fakeClient) CurrentlyPlaying(context.Context) spotify.PlayingResult { return f.playing }

func okProfile(uri, name string) spotify.ProfileResult {
	return spotify.ProfileResult{Status: spotify.StatusOK, Profile: history.Profile{URI: uri, Name: name}}
}

func recentItem(uri, name string, playedAt time.Time) zspotify.RecentlyPlayedItem {
	return zspotify.RecentlyPlayedItem{
		PlayedAt: playedAt,
		Track: zspotify.SimpleTrack{
			Name:    name,
			URI:     zspotify.URI(uri),
			Artists: []zspotify.SimpleArtist{{Name: "Artist"}},
		},
	}
}

func factoryFor(clients map[string]*fakeClient, failTokens map[string]error) ClientFactory {
	return func(_ context.Context, refreshToken string) (ActivityClient, error) {
		if err, ok := failTokens[refreshToken]; ok {
			return nil, err
		}
		return clients[refreshToken], nil
	}
}

func TestRunMergesAndPersistsOnce(t *testing.T) {
	playedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{sha: "v1"}
	clients := map[string]*fakeClient{
		"tok-a": {
			profile: okProfile("spotify:user:a", "Alice"),
			recent: spotify.RecentResult{Status: spotify.StatusOK, Items: []zspotify.RecentlyPlayedItem{
				recentItem("spotify:track:1", "One", playedAt),
				recentItem("spotify:track:2", "Two", playedAt.Add(time.Minute)),
			}},
		},
		"tok-b": {
			profile: okProfile("spotify:user:b", "Bob"),
			recent: spotify.RecentResult{Status: spotify.StatusOK, Items: []zspotify.RecentlyPlayedItem{
				recentItem("spotify:track:1", "One", playedAt),
			}},
		},
	}

	svc := New(store, factoryFor(clients, nil), map[string]string{"alice": "tok-a", "bob": "tok-b"}, zerolog.Nop())

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.UsersProcessed != 2 || result.UsersSkipped != 0 {
		t.Errorf("result = %+v", result)
	}
	// Same track URI for different users is three distinct plays.
	if result.Added != 3 || result.Total != 3 {
		t.Errorf("added = %d total = %d, want 3 and 3", result.Added, result.Total)
	}
	if store.persists != 1 {
		t.Errorf("persists = %d, want exactly 1 per pass", store.persists)
	}
	if store.lastSHA != "v1" {
		t.Errorf("persist used sha %q, want the loaded version", store.lastSHA)
	}
}

func TestRunSecondPassAddsNothing(t *testing.T) {
	playedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	clients := map[string]*fakeClient{
		"tok-a": {
			profile: okProfile("spotify:user:a", "Alice"),
			recent: spotify.RecentResult{Status: spotify.StatusOK, Items: []zspotify.RecentlyPlayedItem{
				recentItem("spotify:track:1", "One", playedAt),
			}},
		},
	}
	svc := New(store, factoryFor(clients, nil), map[string]string{"alice": "tok-a"}, zerolog.Nop())

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.Added != 0 {
		t.Errorf("second pass added = %d, want 0", result.Added)
	}
	if store.persists != 1 {
		t.Errorf("persists = %d, want no second write", store.persists)
	}
}

func TestRunSkipsFailedUserContinuesOthers(t *testing.T) {
	playedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	clients := map[string]*fakeClient{
		"tok-good": {
			profile: okProfile("spotify:user:g", "Good"),
			recent: spotify.RecentResult{Status: spotify.StatusOK, Items: []zspotify.RecentlyPlayedItem{
				recentItem("spotify:track:1", "One", playedAt),
			}},
		},
	}
	failTokens := map[string]error{"tok-bad": spotify.ErrCredentialRefresh}

	svc := New(store, factoryFor(clients, failTokens),
		map[string]string{"good": "tok-good", "bad": "tok-bad"}, zerolog.Nop())

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.UsersProcessed != 1 || result.UsersSkipped != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Added != 1 {
		t.Errorf("added = %d, want the good user's track", result.Added)
	}
}

func TestRunProfileFailureSkipsUser(t *testing.T) {
	store := &fakeStore{}
	clients := map[string]*fakeClient{
		"tok-a": {
			profile: spotify.ProfileResult{Status: spotify.StatusFailed, Err: errors.New("502")},
		},
	}
	svc := New(store, factoryFor(clients, nil), map[string]string{"alice": "tok-a"}, zerolog.Nop())

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.UsersSkipped != 1 || result.UsersProcessed != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunRecentFailureTreatedAsEmpty(t *testing.T) {
	store := &fakeStore{}
	clients := map[string]*fakeClient{
		"tok-a": {
			profile: okProfile("spotify:user:a", "Alice"),
			recent:  spotify.RecentResult{Status: spotify.StatusFailed, Err: errors.New("503")},
		},
	}
	svc := New(store, factoryFor(clients, nil), map[string]string{"alice": "tok-a"}, zerolog.Nop())

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Added != 0 {
		t.Errorf("added = %d", result.Added)
	}
	if store.persists != 0 {
		t.Errorf("persists = %d, want 0 for an empty pass", store.persists)
	}
}

func TestRunClearGateFiltersStoredAndIncoming(t *testing.T) {
	playedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	marker := history.ClearMarker{LastClearTimestamp: playedAt.Add(30 * time.Second).UnixMilli()}

	store := &fakeStore{
		entries: []history.Entry{
			{Timestamp: playedAt.UnixMilli(), UserID: "spotify:user:a", URI: "spotify:track:old"},
		},
		marker: marker,
	}
	clients := map[string]*fakeClient{
		"tok-a": {
			profile: okProfile("spotify:user:a", "Alice"),
			recent: spotify.RecentResult{Status: spotify.StatusOK, Items: []zspotify.RecentlyPlayedItem{
				recentItem("spotify:track:old", "Old", playedAt),                // pre-clear, gated
				recentItem("spotify:track:new", "New", playedAt.Add(time.Hour)), // post-clear
			}},
		},
	}
	svc := New(store, factoryFor(clients, nil), map[string]string{"alice": "tok-a"}, zerolog.Nop())

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Added != 1 || result.Total != 1 {
		t.Errorf("result = %+v, want only the post-clear track", result)
	}
	if store.entries[0].URI != "spotify:track:new" {
		t.Errorf("persisted = %+v", store.entries)
	}
}

func TestRunStorageFailureAbortsPass(t *testing.T) {
	playedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	wantErr := errors.New("version conflict")
	store := &fakeStore{failPut: wantErr}
	clients := map[string]*fakeClient{
		"tok-a": {
			profile: okProfile("spotify:user:a", "Alice"),
			recent: spotify.RecentResult{Status: spotify.StatusOK, Items: []zspotify.RecentlyPlayedItem{
				recentItem("spotify:track:1", "One", playedAt),
			}},
		},
	}
	svc := New(store, factoryFor(clients, nil), map[string]string{"alice": "tok-a"}, zerolog.Nop())

	_, err := svc.Run(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want the storage error surfaced", err)
	}
}

func TestLive(t *testing.T) {
	clients := map[string]*fakeClient{
		"tok-a": {
			profile: okProfile("spotify:user:a", "Alice"),
			playing: spotify.PlayingResult{Status: spotify.StatusOK, Item: &zspotify.CurrentlyPlaying{
				Timestamp: 123,
				Item: &zspotify.FullTrack{
					SimpleTrack: zspotify.SimpleTrack{Name: "One", URI: "spotify:track:1"},
				},
			}},
		},
		"tok-b": {
			profile: okProfile("spotify:user:b", "Bob"),
			playing: spotify.PlayingResult{Status: spotify.StatusEmpty},
		},
		"tok-c": {
			profile: spotify.ProfileResult{Status: spotify.StatusFailed, Err: errors.New("down")},
		},
	}
	svc := New(&fakeStore{}, factoryFor(clients, nil),
		map[string]string{"alice": "tok-a", "bob": "tok-b", "carol": "tok-c"}, zerolog.Nop())

	live := svc.Live(context.Background())
	if len(live) != 1 {
		t.Fatalf("live = %+v, want one entry", live)
	}
	if live[0].User.Name != "Alice" || live[0].Track.Name != "One" {
		t.Errorf("live[0] = %+v", live[0])
	}
}

func TestHistoryServesFilteredSorted(t *testing.T) {
	store := &fakeStore{
		entries: []history.Entry{
			{Timestamp: 100, UserID: "u1", URI: "t1"},
			{Timestamp: 300, UserID: "u1", URI: "t3"},
			{Timestamp: 200, UserID: "u1", URI: "t2"},
			{Timestamp: 200, UserID: "u1", URI: "t2"}, // exact duplicate
		},
		marker: history.ClearMarker{LastClearTimestamp: 100},
	}
	svc := New(store, nil, nil, zerolog.Nop())

	entries, err := svc.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2", entries)
	}
	if entries[0].Timestamp != 300 || entries[1].Timestamp != 200 {
		t.Errorf("not sorted descending: %+v", entries)
	}
}
