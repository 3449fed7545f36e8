// Package history defines the play-history data model and the normalization
// and dedup/merge rules for ingesting listening activity.
package history

// Entry is one confirmed play event. Entries are immutable once merged; they
// only ever leave the log through a bulk clear.
type Entry struct {
	// Timestamp is the play start time in epoch milliseconds.
	Timestamp int64  `json:"timestamp"`
	User      string `json:"user"`
	// UserID is the stable Spotify URI of the listener. The display name in
	// User can change; identity decisions always use UserID.
	UserID   string `json:"userId"`
	Track    string `json:"track"`
	Artist   string `json:"artist"`
	URI      string `json:"uri"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// ClearMarker records the last time the log was wiped. Events at or before
// this timestamp are pre-reset noise and must never be re-ingested.
type ClearMarker struct {
	LastClearTimestamp int64 `json:"lastClearTimestamp"`
}

// Profile is the resolved identity of a tracked user.
type Profile struct {
	URI      string
	Name     string
	ImageURL string
}

// LiveUser identifies the listener in a live entry.
type LiveUser struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// LiveAlbum describes the album of a currently playing track.
type LiveAlbum struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// LiveArtist describes the credited artists of a currently playing track.
type LiveArtist struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// LiveContext describes where playback is happening (playlist, album, ...).
type LiveContext struct {
	URI   string `json:"uri,omitempty"`
	Name  string `json:"name,omitempty"`
	Index int    `json:"index"`
}

// LiveTrack is the track portion of a live entry.
type LiveTrack struct {
	URI      string      `json:"uri"`
	Name     string      `json:"name"`
	ImageURL string      `json:"imageUrl,omitempty"`
	Album    LiveAlbum   `json:"album"`
	Artist   LiveArtist  `json:"artist"`
	Context  LiveContext `json:"context"`
}

// LiveEntry is the ephemeral currently-listening state for one user. It is
// never persisted; it lives for a single API response.
type LiveEntry struct {
	Timestamp int64     `json:"timestamp"`
	User      LiveUser  `json:"user"`
	Track     LiveTrack `json:"track"`
}

// Clean returns a non-nil copy-safe log. A missing or malformed stored log
// reads as empty rather than failing the pass.
func Clean(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	return entries
}
