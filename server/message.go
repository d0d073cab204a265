package server

import (
	"encoding/json"
)

// MessageType tags every wire document. The values are fixed by the
// existing client protocol and must not change.
type MessageType string

// Client to server.
const (
	TypeOwnerCreateRoom    MessageType = "owner_create_room"
	TypeOwnerEndedStream   MessageType = "owner_ended_stream"
	TypeJoinRoom           MessageType = "join_room"
	TypeLeaveRoom          MessageType = "leave_room"
	TypeAddSong            MessageType = "add_song"
	TypeUpdateSongsList    MessageType = "update_songs_list"
	TypePlayNextSong       MessageType = "play_next_song"
	TypeSongStatePlay      MessageType = "song_state_play"
	TypeSongStatePause     MessageType = "song_state_pause"
	TypeSongQueueConcluded MessageType = "song_queue_concluded"
)

// Server to client. Play, pause and concluded reuse their inbound tags.
const (
	TypeRoomCreated  MessageType = "room_created"
	TypeRoomNotExist MessageType = "room_not_exist"
	TypeJoinedRoom   MessageType = "joined_room"
	TypeLeftRoom     MessageType = "left_room"
	TypeUpdateList   MessageType = "update_list"
)

// Inbound is the flat decode target for every client document. Which fields
// are populated depends on Type; absent fields stay zero. sender is stamped
// by the transport on receipt.
type Inbound struct {
	Type                  MessageType `json:"type"`
	ID                    string      `json:"id,omitempty"`
	RoomID                string      `json:"roomId,omitempty"`
	AddedBy               string      `json:"addedBy,omitempty"`
	ExtractedID           string      `json:"extractedId,omitempty"`
	Songs                 []Song      `json:"songs,omitempty"`
	UpdatedHistory        []Song      `json:"updatedHistory,omitempty"`
	PreviouslyPlayedSongs []Song      `json:"previouslyPlayedSongs,omitempty"`
	SongToPlay            *Song       `json:"songToPlay,omitempty"`
	UpdatedList           []Song      `json:"updatedList,omitempty"`
	SongResumedTime       float64     `json:"songResumedTime,omitempty"`

	sender ClientSession
}

// DecodeInbound parses a raw wire document.
func DecodeInbound(data []byte) (*Inbound, error) {
	var m Inbound
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RoomSnapshot is the full-state document: room_created, joined_room and
// update_list. Song lists serialise as arrays even when empty, never null;
// CurrentlyPlaying is omitted while the room is idle.
type RoomSnapshot struct {
	Type                  MessageType  `json:"type"`
	Songs                 []Song       `json:"songs"`
	PreviouslyPlayedSongs []Song       `json:"previouslyPlayedSongs"`
	CurrentlyPlaying      *PlayingSong `json:"currentlyPlaying,omitempty"`
}

// PlayState is the lightweight resume edge carrying the new shared clock
// base so every client recomputes expected position from the same instant.
type PlayState struct {
	Type            MessageType `json:"type"`
	UpdatedPlayTime int64       `json:"updatedPlayTime"`
}

// Notice is a bare tagged event: room_not_exist, left_room,
// song_state_pause and song_queue_concluded.
type Notice struct {
	Type MessageType `json:"type"`
}
