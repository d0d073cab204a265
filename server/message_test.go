package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_AddSong(t *testing.T) {
	raw := []byte(`{"type":"add_song","roomId":"H1","addedBy":"alice","extractedId":"abc123"}`)

	m, err := DecodeInbound(raw)
	require.NoError(t, err)

	assert.Equal(t, TypeAddSong, m.Type)
	assert.Equal(t, "H1", m.RoomID)
	assert.Equal(t, "alice", m.AddedBy)
	assert.Equal(t, "abc123", m.ExtractedID)
}

func TestDecodeInbound_PlayNext(t *testing.T) {
	raw := []byte(`{
		"type":"play_next_song",
		"roomId":"H1",
		"songToPlay":{"extractedId":"abc123","votes":["P1"]},
		"updatedList":[],
		"updatedHistory":[{"extractedId":"abc123","votes":["P1"]}]
	}`)

	m, err := DecodeInbound(raw)
	require.NoError(t, err)

	require.NotNil(t, m.SongToPlay)
	assert.Equal(t, "abc123", m.SongToPlay.ExtractedID)
	assert.Equal(t, []string{"P1"}, m.SongToPlay.Votes)
	assert.Len(t, m.UpdatedHistory, 1)
}

func TestDecodeInbound_Invalid(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestRoomSnapshot_EmptyListsSerialiseAsArrays(t *testing.T) {
	snap := &RoomSnapshot{
		Type:                  TypeRoomCreated,
		Songs:                 []Song{},
		PreviouslyPlayedSongs: []Song{},
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"room_created","songs":[],"previouslyPlayedSongs":[]}`, string(data))
}

func TestRoomSnapshot_CurrentlyPlaying(t *testing.T) {
	snap := &RoomSnapshot{
		Type:                  TypeUpdateList,
		Songs:                 []Song{},
		PreviouslyPlayedSongs: []Song{},
		CurrentlyPlaying: &PlayingSong{
			Song:            Song{ExtractedID: "abc123", Votes: []string{"P1"}},
			PlayedAt:        1700000000000,
			IsPlaying:       true,
			SongResumedTime: 0,
		},
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	cur := decoded["currentlyPlaying"].(map[string]interface{})
	assert.Equal(t, "abc123", cur["extractedId"])
	assert.Equal(t, true, cur["isPlaying"])
	assert.Equal(t, float64(0), cur["songResumedTime"])
}

func TestNoticeSerialisation(t *testing.T) {
	data, err := json.Marshal(&Notice{Type: TypeRoomNotExist})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room_not_exist"}`, string(data))
}
