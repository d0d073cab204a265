package server

import (
	"sort"
	"time"
)

// Song is one queue entry. The JSON field names are fixed by the client
// protocol and the persisted list documents.
type Song struct {
	ExtractedID        string   `json:"extractedId"`
	ExtractedName      string   `json:"extractedName"`
	ExtractedThumbnail string   `json:"extractedThumbnail"`
	AddedBy            string   `json:"addedBy"`
	Votes              []string `json:"votes"`
}

// HasVote reports whether userID already voted for the song.
func (s *Song) HasVote(userID string) bool {
	for _, v := range s.Votes {
		if v == userID {
			return true
		}
	}
	return false
}

// AddVote records a vote, reporting whether it counted. A repeated vote by
// the same user is a no-op.
func (s *Song) AddVote(userID string) bool {
	if s.HasVote(userID) {
		return false
	}
	s.Votes = append(s.Votes, userID)
	return true
}

// PlayingSong is the shared playback slot: the song plus the clock base
// every participant projects its position from.
type PlayingSong struct {
	Song
	PlayedAt        int64   `json:"playedAt"` // server clock, unix ms
	IsPlaying       bool    `json:"isPlaying"`
	SongResumedTime float64 `json:"songResumedTime"` // offset in seconds at PlayedAt
}

// Position projects the playback offset in seconds at the given server
// instant. While paused the position is frozen at the resume offset.
func (p *PlayingSong) Position(now time.Time) float64 {
	if !p.IsPlaying {
		return p.SongResumedTime
	}
	return p.SongResumedTime + float64(now.UnixMilli()-p.PlayedAt)/1000.0
}

// RankSongs orders a queue by vote count, most votes first. The sort is
// stable so equal-vote songs keep their submission order, and the input
// slice is left untouched.
func RankSongs(queue []Song) []Song {
	ranked := make([]Song, len(queue))
	copy(ranked, queue)
	sort.SliceStable(ranked, func(i, j int) bool {
		return len(ranked[i].Votes) > len(ranked[j].Votes)
	})
	return ranked
}

// NextSong picks the top-ranked entry of the queue.
func NextSong(queue []Song) (Song, bool) {
	if len(queue) == 0 {
		return Song{}, false
	}
	return RankSongs(queue)[0], true
}

func containsSong(queue []Song, extractedID string) bool {
	for i := range queue {
		if queue[i].ExtractedID == extractedID {
			return true
		}
	}
	return false
}

// normalizeSongs copies a client- or cache-supplied list into canonical
// form: never nil, vote sets deduplicated in first-seen order so a
// replayed vote document cannot count anyone twice.
func normalizeSongs(songs []Song) []Song {
	out := make([]Song, 0, len(songs))
	for _, s := range songs {
		votes := make([]string, 0, len(s.Votes))
		seen := make(map[string]struct{}, len(s.Votes))
		for _, v := range s.Votes {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			votes = append(votes, v)
		}
		s.Votes = votes
		out = append(out, s)
	}
	return out
}
