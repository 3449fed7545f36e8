package spotify

import (
	"context"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/go-spotify-activity-sync/internal/history"
)

// recentPageSize is the upstream maximum for one recently-played page.
const recentPageSize = 50

// Status tags the outcome of an upstream read. A Failed read carries the
// underlying error; callers treat both Empty and Failed as "nothing to
// ingest" but tests and logs can tell them apart.
type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusFailed
)

// ProfileResult is the outcome of a profile fetch.
type ProfileResult struct {
	Status  Status
	Profile history.Profile
	Err     error
}

// RecentResult is the outcome of a recently-played fetch.
type RecentResult struct {
	Status Status
	Items  []spotify.RecentlyPlayedItem
	Err    error
}

// PlayingResult is the outcome of a currently-playing fetch.
type PlayingResult struct {
	Status Status
	Item   *spotify.CurrentlyPlaying
	Err    error
}

// Profile fetches the user's profile. A failed read yields StatusFailed, not
// an error return; the sync pass skips the user and moves on.
func (c *Client) Profile(ctx context.Context) ProfileResult {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return ProfileResult{Status: StatusFailed, Err: err}
	}

	profile := history.Profile{
		URI:  string(user.URI),
		Name: user.DisplayName,
	}
	if len(user.Images) > 0 {
		profile.ImageURL = user.Images[0].URL
	}

	return ProfileResult{Status: StatusOK, Profile: profile}
}

// Recent fetches the user's recently-played page, at most one page of 50.
// When afterMs is positive it is passed as the upstream cursor so only plays
// after that instant come back.
func (c *Client) Recent(ctx context.Context, afterMs int64) RecentResult {
	opts := spotify.RecentlyPlayedOptions{Limit: recentPageSize}
	if afterMs > 0 {
		opts.AfterEpochMs = afterMs
	}

	items, err := c.api.PlayerRecentlyPlayedOpt(ctx, &opts)
	if err != nil {
		return RecentResult{Status: StatusFailed, Err: err}
	}
	if len(items) == 0 {
		return RecentResult{Status: StatusEmpty}
	}

	return RecentResult{Status: StatusOK, Items: items}
}

// CurrentlyPlaying fetches the user's playback state. Nothing playing is
// StatusEmpty, not a failure.
func (c *Client) CurrentlyPlaying(ctx context.Context) PlayingResult {
	playing, err := c.api.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return PlayingResult{Status: StatusFailed, Err: err}
	}
	if playing == nil || playing.Item == nil {
		return PlayingResult{Status: StatusEmpty}
	}

	return PlayingResult{Status: StatusOK, Item: playing}
}
