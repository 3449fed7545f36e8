package history

import (
	"strings"

	"github.com/zmb3/spotify/v2"
)

// NormalizeRecent maps an upstream recently-played item to an Entry for the
// given user. It fails closed: items missing a track URI, a track name or a
// play timestamp are dropped (ok=false), since upstream occasionally returns
// partial records.
func NormalizeRecent(item spotify.RecentlyPlayedItem, profile Profile) (Entry, bool) {
	if item.Track.URI == "" || item.Track.Name == "" || item.PlayedAt.IsZero() {
		return Entry{}, false
	}

	return Entry{
		Timestamp: item.PlayedAt.UnixMilli(),
		User:      profile.Name,
		UserID:    profile.URI,
		Track:     item.Track.Name,
		Artist:    joinArtists(item.Track.Artists),
		URI:       string(item.Track.URI),
		ImageURL:  firstImage(item.Track.Album.Images),
	}, true
}

// NormalizeCurrentlyPlaying maps an upstream currently-playing response to a
// LiveEntry. Returns ok=false when nothing is playing.
func NormalizeCurrentlyPlaying(playing *spotify.CurrentlyPlaying, profile Profile) (LiveEntry, bool) {
	if playing == nil || playing.Item == nil {
		return LiveEntry{}, false
	}

	track := playing.Item
	entry := LiveEntry{
		Timestamp: playing.Timestamp,
		User: LiveUser{
			URI:      profile.URI,
			Name:     profile.Name,
			ImageURL: profile.ImageURL,
		},
		Track: LiveTrack{
			URI:      string(track.URI),
			Name:     track.Name,
			ImageURL: firstImage(track.Album.Images),
			Album: LiveAlbum{
				URI:  string(track.Album.URI),
				Name: track.Album.Name,
			},
			Artist: LiveArtist{
				Name: joinArtists(track.Artists),
			},
			Context: LiveContext{
				URI:  string(playing.PlaybackContext.URI),
				Name: playing.PlaybackContext.Type,
			},
		},
	}
	if len(track.Artists) > 0 {
		entry.Track.Artist.URI = string(track.Artists[0].URI)
	}

	return entry, true
}

// joinArtists joins credited artist names with ", " in upstream order.
func joinArtists(artists []spotify.SimpleArtist) string {
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

func firstImage(images []spotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}
