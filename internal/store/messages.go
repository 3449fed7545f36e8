package store

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Building blocks for randomized sync commit messages. Purely cosmetic; the
// clear and backup messages are NOT randomized because their format is parsed
// later.
var (
	messageEmojis = []string{"🎵", "🎧", "🎶", "🎼", "🎤", "🎸", "🎹", "🎺", "🎻", "🥁", "🎷", "🪕", "💿", "📻", "🔊", "🎙️", "🪘", "📀", "🎚️", "🎛️"}
	messageVerbs  = []string{"Update", "Sync", "Refresh", "Add", "Log", "Record", "Save", "Push", "Commit", "Track", "Capture", "Store", "Archive", "Upload", "Process"}
	messageNouns  = []string{"music data", "Spotify activity", "listening history", "track data", "play history", "audio logs", "music stats", "sound waves", "beat records", "tune archive"}
	messageAdjs   = []string{"fresh", "new", "latest", "recent", "hot", "cool", "stellar", "cosmic", "groovy", "funky", "smooth", "crisp", "vibrant", "dynamic"}
	messageTails  = []string{"", " ✨", " 🚀", " 💫", " ⚡", " 🔥", " 💎", " 🌟", " ⭐", " 🎯"}
)

func pick(items []string) string {
	return items[rand.IntN(len(items))]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// SyncCommitMessage builds a randomized commit message for a sync pass.
// Always ends in "[skip ci]" so log commits never trigger CI in the data
// repository.
func SyncCommitMessage(newTracks int) string {
	patterns := []func() string{
		func() string { return fmt.Sprintf("%s %s %s", pick(messageEmojis), pick(messageVerbs), pick(messageNouns)) },
		func() string {
			return fmt.Sprintf("%s %s %s", pick(messageEmojis), capitalize(pick(messageAdjs)), pick(messageNouns))
		},
		func() string {
			return fmt.Sprintf("%s %s %s %s", pick(messageEmojis), pick(messageVerbs), pick(messageAdjs), pick(messageNouns))
		},
		func() string {
			return fmt.Sprintf("%s %s %s%s", pick(messageEmojis), pick(messageVerbs), pick(messageNouns), pick(messageTails))
		},
		func() string {
			if newTracks <= 0 {
				return fmt.Sprintf("%s %s %s", pick(messageEmojis), pick(messageVerbs), pick(messageNouns))
			}
			unit := "tracks"
			if newTracks == 1 {
				unit = "track"
			}
			return fmt.Sprintf("%s %s %d %s", pick(messageEmojis), pick(messageVerbs), newTracks, unit)
		},
	}

	return patterns[rand.IntN(len(patterns))]() + " [skip ci]"
}
