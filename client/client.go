// Package client is a headless room participant: it speaks the full wire
// protocol and keeps a local player in sync through a drift Monitor. It
// doubles as the reference for what a UI client must do.
package client

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Strum355/log"
	"github.com/gorilla/websocket"

	"github.com/roomsync-live/roomsync/server"
)

const (
	handshakeTimeout = 45 * time.Second
	writeWait        = 5 * time.Second
)

// serverMessage is the flat decode target for every server document.
type serverMessage struct {
	Type                  server.MessageType  `json:"type"`
	Songs                 []server.Song       `json:"songs"`
	PreviouslyPlayedSongs []server.Song       `json:"previouslyPlayedSongs"`
	CurrentlyPlaying      *server.PlayingSong `json:"currentlyPlaying"`
	UpdatedPlayTime       int64               `json:"updatedPlayTime"`
}

// Client is one connection to a room server. Songs, History and Current
// mirror the last authoritative snapshot; every update replaces them
// wholesale, never merges.
type Client struct {
	conn    *websocket.Conn
	monitor *Monitor

	userID string
	roomID string

	mu      sync.Mutex
	songs   []server.Song
	history []server.Song
	current *server.PlayingSong
	inRoom  bool

	// OnUpdate, if set, runs after every applied snapshot.
	OnUpdate func()
	// OnRoomClosed, if set, runs when the host ends the stream.
	OnRoomClosed func()

	stop    chan struct{}
	stopped chan struct{}
}

// Connect dials a room server. monitor may be nil for a client that only
// mutates the queue and never plays anything.
func Connect(dialer *websocket.Dialer, addr string, monitor *Monitor) (*Client, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	conn, _, err := dialer.Dial(addr, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		monitor: monitor,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Run reads server documents until the connection drops or Close is called.
func (c *Client) Run() {
	defer func() {
		close(c.stopped)
		c.conn.Close()
	}()
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var m serverMessage
		if err := json.Unmarshal(data, &m); err != nil {
			log.WithError(err).Info("discarding unreadable server message")
			continue
		}
		c.apply(&m)
	}
}

func (c *Client) apply(m *serverMessage) {
	switch m.Type {
	case server.TypeRoomCreated, server.TypeJoinedRoom, server.TypeUpdateList:
		c.mu.Lock()
		c.inRoom = true
		c.songs = m.Songs
		c.history = m.PreviouslyPlayedSongs
		if m.CurrentlyPlaying != nil {
			c.current = m.CurrentlyPlaying
		}
		cur := c.current
		fresh := m.CurrentlyPlaying != nil
		c.mu.Unlock()
		if fresh && c.monitor != nil {
			c.monitor.SetNowPlaying(cur)
		}
		if c.OnUpdate != nil {
			c.OnUpdate()
		}
	case server.TypeSongStatePlay:
		c.mu.Lock()
		if c.current != nil {
			c.current.IsPlaying = true
			c.current.PlayedAt = m.UpdatedPlayTime
		}
		c.mu.Unlock()
		if c.monitor != nil {
			c.monitor.HandlePlayEvent(m.UpdatedPlayTime)
		}
	case server.TypeSongStatePause:
		c.mu.Lock()
		if c.current != nil {
			c.current.IsPlaying = false
		}
		c.mu.Unlock()
		if c.monitor != nil {
			c.monitor.HandlePauseEvent()
		}
	case server.TypeSongQueueConcluded:
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		if c.monitor != nil {
			c.monitor.Stop()
		}
	case server.TypeRoomNotExist:
		c.mu.Lock()
		c.inRoom = false
		c.mu.Unlock()
	case server.TypeLeftRoom:
		c.mu.Lock()
		c.inRoom = false
		c.songs = nil
		c.history = nil
		c.current = nil
		c.mu.Unlock()
		if c.monitor != nil {
			c.monitor.Stop()
		}
		if c.OnRoomClosed != nil {
			c.OnRoomClosed()
		}
	}
}

func (c *Client) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// CreateRoom opens (or reattaches to) the session keyed by hostID.
func (c *Client) CreateRoom(hostID string) error {
	c.userID, c.roomID = hostID, hostID
	return c.sendJSON(&server.Inbound{Type: server.TypeOwnerCreateRoom, ID: hostID})
}

// Join enters an existing room.
func (c *Client) Join(roomID, userID string) error {
	c.userID, c.roomID = userID, roomID
	return c.sendJSON(&server.Inbound{Type: server.TypeJoinRoom, ID: userID, RoomID: roomID})
}

// Leave exits the room without affecting anyone else.
func (c *Client) Leave() error {
	return c.sendJSON(&server.Inbound{Type: server.TypeLeaveRoom, ID: c.userID, RoomID: c.roomID})
}

// AddSong submits a content id; the server resolves metadata and broadcasts.
func (c *Client) AddSong(extractedID string) error {
	return c.sendJSON(&server.Inbound{
		Type:        server.TypeAddSong,
		RoomID:      c.roomID,
		AddedBy:     c.userID,
		ExtractedID: extractedID,
	})
}

// Upvote casts this user's vote by submitting the whole updated queue, the
// way the existing protocol works: the server treats it as the new truth.
func (c *Client) Upvote(extractedID string) error {
	c.mu.Lock()
	updated := make([]server.Song, len(c.songs))
	copy(updated, c.songs)
	for i := range updated {
		if updated[i].ExtractedID == extractedID {
			updated[i].AddVote(c.userID)
		}
	}
	history := c.history
	c.mu.Unlock()
	return c.sendJSON(&server.Inbound{
		Type:           server.TypeUpdateSongsList,
		RoomID:         c.roomID,
		Songs:          updated,
		UpdatedHistory: history,
	})
}

// PlayNext advances the shared queue: the top-ranked song becomes current,
// the remainder stays queued and the picked song heads the history.
func (c *Client) PlayNext() error {
	c.mu.Lock()
	next, ok := server.NextSong(c.songs)
	if !ok {
		c.mu.Unlock()
		return c.ConcludeQueue()
	}
	remainder := make([]server.Song, 0, len(c.songs)-1)
	for _, s := range c.songs {
		if s.ExtractedID != next.ExtractedID {
			remainder = append(remainder, s)
		}
	}
	history := append([]server.Song{next}, c.history...)
	c.mu.Unlock()
	return c.sendJSON(&server.Inbound{
		Type:           server.TypePlayNextSong,
		RoomID:         c.roomID,
		SongToPlay:     &next,
		UpdatedList:    remainder,
		UpdatedHistory: history,
	})
}

// Pause freezes shared playback (host only).
func (c *Client) Pause() error {
	return c.sendJSON(&server.Inbound{Type: server.TypeSongStatePause, RoomID: c.roomID})
}

// Resume restarts shared playback from the offset the local player reports
// (host only); the server redistributes the new clock base.
func (c *Client) Resume(songResumedTime float64) error {
	return c.sendJSON(&server.Inbound{
		Type:            server.TypeSongStatePlay,
		RoomID:          c.roomID,
		SongResumedTime: songResumedTime,
	})
}

// ConcludeQueue reports the natural end of the last track (host only).
func (c *Client) ConcludeQueue() error {
	return c.sendJSON(&server.Inbound{Type: server.TypeSongQueueConcluded, RoomID: c.roomID})
}

// EndStream tears the session down with a final snapshot (host only).
func (c *Client) EndStream() error {
	c.mu.Lock()
	songs, history := c.songs, c.history
	c.mu.Unlock()
	return c.sendJSON(&server.Inbound{
		Type:                  server.TypeOwnerEndedStream,
		RoomID:                c.roomID,
		Songs:                 songs,
		PreviouslyPlayedSongs: history,
	})
}

// Snapshot returns copies of the last received queue and history.
func (c *Client) Snapshot() (songs, history []server.Song, current *server.PlayingSong) {
	c.mu.Lock()
	defer c.mu.Unlock()
	songs = make([]server.Song, len(c.songs))
	copy(songs, c.songs)
	history = make([]server.Song, len(c.history))
	copy(history, c.history)
	if c.current != nil {
		cur := *c.current
		current = &cur
	}
	return songs, history, current
}

// InRoom reports whether the client currently holds a live room snapshot.
func (c *Client) InRoom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inRoom
}

// Close stops the read loop and closes the connection.
func (c *Client) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.conn.Close()
	<-c.stopped
}
