package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Strum355/log"

	"github.com/roomsync-live/roomsync/lookup"
	"github.com/roomsync-live/roomsync/store"
)

const (
	roomMessageQueueSize = 256
	storeTimeout         = 5 * time.Second
	lookupTimeout        = 10 * time.Second
)

// Room is one live listening session. The manager goroutine started by
// RunManager exclusively owns queue, history, current and the participant
// map; every mutation arrives through recvQueue, so two messages for the
// same room can never interleave while rooms stay independent of each other.
type Room struct {
	ID string

	clients map[string]ClientSession // user id -> session
	host    ClientSession

	queue   []Song
	history []Song // most-recent-first
	current *PlayingSong

	recvQueue chan *Inbound
	closing   chan struct{}
	closeOnce sync.Once

	server   *Server
	store    store.Store
	resolver lookup.Resolver
}

// NewRoom creates a room with the given restored queue and history. The
// caller still has to register it with the server and start RunManager.
func NewRoom(id string, server *Server, queue, history []Song) *Room {
	return &Room{
		ID:        id,
		clients:   make(map[string]ClientSession),
		queue:     normalizeSongs(queue),
		history:   normalizeSongs(history),
		recvQueue: make(chan *Inbound, roomMessageQueueSize),
		closing:   make(chan struct{}),
		server:    server,
		store:     server.store,
		resolver:  server.resolver,
	}
}

// RunManager owns the room until the host ends the stream or the server
// shuts down.
func (r *Room) RunManager() {
	defer func() {
		for _, c := range r.clients {
			c.Unbind()
		}
		log.WithFields(log.Fields{"room": r.ID}).Info("room deregistered")
	}()
	for {
		select {
		case m := <-r.recvQueue:
			if ended := r.handle(m); ended {
				return
			}
		case <-r.closing:
			// server shutdown: snapshot state so the host can recreate
			// the session, then evict everyone
			r.persistQueue()
			r.persistHistory()
			r.broadcast(&Notice{Type: TypeLeftRoom})
			return
		}
	}
}

// handle applies one mutation, reporting true once the room is ended and
// deregistered.
func (r *Room) handle(m *Inbound) bool {
	switch m.Type {
	case TypeOwnerCreateRoom:
		r.handleHostAttach(m)
	case TypeJoinRoom:
		r.handleJoin(m)
	case TypeLeaveRoom:
		r.handleLeave(m)
	case TypeAddSong:
		r.handleAddSong(m)
	case TypeUpdateSongsList:
		r.handleUpdateLists(m)
	case TypePlayNextSong:
		r.handlePlayNext(m)
	case TypeSongStatePause:
		r.handlePause(m)
	case TypeSongStatePlay:
		r.handleResume(m)
	case TypeSongQueueConcluded:
		r.handleQueueConcluded(m)
	case TypeOwnerEndedStream:
		return r.handleEndStream(m)
	default:
		log.WithFields(log.Fields{"room": r.ID, "type": string(m.Type)}).
			Debug("dropping unhandled message")
	}
	return false
}

// handleHostAttach binds (or rebinds after a dropped connection) the host
// session and replies with the restored lists.
func (r *Room) handleHostAttach(m *Inbound) {
	if m.sender == nil {
		return
	}
	r.host = m.sender
	r.addSession(m.ID, m.sender)
	r.send(m.sender, &RoomSnapshot{
		Type:                  TypeRoomCreated,
		Songs:                 r.queue,
		PreviouslyPlayedSongs: r.history,
	})
	log.WithFields(log.Fields{"room": r.ID}).Info("host attached")
}

func (r *Room) handleJoin(m *Inbound) {
	if m.sender == nil {
		return
	}
	r.addSession(m.ID, m.sender)
	r.send(m.sender, &RoomSnapshot{
		Type:                  TypeJoinedRoom,
		Songs:                 r.queue,
		PreviouslyPlayedSongs: r.history,
		CurrentlyPlaying:      r.currentCopy(),
	})
	log.WithFields(log.Fields{"room": r.ID, "user": m.ID}).Info("participant joined")
}

// handleLeave removes a participant. It is idempotent: dropped connections
// are cleaned up with a synthetic leave that may race an explicit one. A
// plain leave triggers no broadcast.
func (r *Room) handleLeave(m *Inbound) {
	c, ok := r.clients[m.ID]
	if !ok {
		return
	}
	// ignore a stale leave from a connection that was already superseded
	if m.sender != nil && c != m.sender {
		return
	}
	delete(r.clients, m.ID)
	c.Unbind()
	if r.host == c {
		// host connection gone; the room stays alive until an explicit
		// owner_ended_stream, the host may reattach with the same id
		r.host = nil
	}
	log.WithFields(log.Fields{"room": r.ID, "user": m.ID}).Info("participant left")
}

// handleAddSong appends a song after resolving its display metadata. A
// contentId already pending is a no-op so duplicate submissions racing a
// broadcast cannot double up; a failed or malformed lookup drops the add
// without mutating anything.
func (r *Room) handleAddSong(m *Inbound) {
	if containsSong(r.queue, m.ExtractedID) {
		log.WithFields(log.Fields{"room": r.ID, "song": m.ExtractedID}).
			Info("duplicate song request ignored")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	meta, err := r.resolver.Resolve(ctx, m.ExtractedID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.ID, "song": m.ExtractedID}).
			Error("metadata lookup failed, dropping add")
		return
	}
	r.queue = append(r.queue, Song{
		ExtractedID:        m.ExtractedID,
		ExtractedName:      meta.Title,
		ExtractedThumbnail: meta.ThumbnailURL,
		AddedBy:            m.AddedBy,
		Votes:              []string{},
	})
	r.persistQueue()
	r.persistHistory()
	r.broadcastLists(false)
}

// handleUpdateLists is the vote path. The client submits the whole queue as
// the new truth and the server takes it, last write wins; it only normalises
// vote sets so a replayed vote cannot count twice. A missing updatedHistory
// keeps the existing history.
func (r *Room) handleUpdateLists(m *Inbound) {
	r.queue = normalizeSongs(m.Songs)
	if m.UpdatedHistory != nil {
		r.history = normalizeSongs(m.UpdatedHistory)
	}
	r.persistQueue()
	r.persistHistory()
	r.broadcastLists(false)
}

// handlePlayNext installs the host-selected song as current with a fresh
// clock base and replaces both lists with the client-computed remainder.
func (r *Room) handlePlayNext(m *Inbound) {
	if !r.fromHost(m) || m.SongToPlay == nil {
		return
	}
	r.current = &PlayingSong{
		Song:            *m.SongToPlay,
		PlayedAt:        time.Now().UnixMilli(),
		IsPlaying:       true,
		SongResumedTime: 0,
	}
	r.queue = normalizeSongs(m.UpdatedList)
	if m.UpdatedHistory != nil {
		r.history = normalizeSongs(m.UpdatedHistory)
	}
	r.persistQueue()
	r.persistHistory()
	r.broadcastLists(true)
}

// handlePause freezes playback. The position needs no recomputation: pause
// keeps SongResumedTime as the last known offset and clients stop their own
// clocks on the edge event.
func (r *Room) handlePause(m *Inbound) {
	if !r.fromHost(m) || r.current == nil {
		return
	}
	r.current.IsPlaying = false
	r.broadcast(&Notice{Type: TypeSongStatePause})
}

// handleResume restarts the shared clock. The host reports the offset its
// player resumed from; the server trusts it and hands every client the same
// new base instant.
func (r *Room) handleResume(m *Inbound) {
	if !r.fromHost(m) || r.current == nil {
		return
	}
	now := time.Now().UnixMilli()
	r.current.IsPlaying = true
	r.current.PlayedAt = now
	r.current.SongResumedTime = m.SongResumedTime
	r.broadcast(&PlayState{Type: TypeSongStatePlay, UpdatedPlayTime: now})
}

// handleQueueConcluded clears the playing slot once the host observed the
// final track finish with nothing left to play.
func (r *Room) handleQueueConcluded(m *Inbound) {
	if !r.fromHost(m) {
		return
	}
	r.current = nil
	r.broadcast(&Notice{Type: TypeSongQueueConcluded})
}

// handleEndStream is the only path that tears a room down: final snapshot
// from the host-submitted lists, terminal notice to everyone, registry
// removal. The playing slot is discarded, only the lists survive.
func (r *Room) handleEndStream(m *Inbound) bool {
	if !r.fromHost(m) {
		return false
	}
	if m.Songs != nil {
		r.queue = normalizeSongs(m.Songs)
	}
	if m.PreviouslyPlayedSongs != nil {
		r.history = normalizeSongs(m.PreviouslyPlayedSongs)
	}
	r.current = nil
	r.persistQueue()
	r.persistHistory()
	r.broadcast(&Notice{Type: TypeLeftRoom})
	// remove from the registry before the manager exits so late messages
	// resolve to room_not_exist instead of a dead queue
	r.server.removeRoom(r)
	r.shutdown()
	log.WithFields(log.Fields{"room": r.ID}).Info("stream ended by host")
	return true
}

// shutdown unblocks anyone routing into this room. Safe to call twice: a
// host-initiated end can race a server shutdown.
func (r *Room) shutdown() {
	r.closeOnce.Do(func() { close(r.closing) })
}

func (r *Room) addSession(userID string, c ClientSession) {
	if prev, ok := r.clients[userID]; ok && prev != c {
		prev.Unbind()
	}
	r.clients[userID] = c
	c.Bind(userID, r.ID)
}

// fromHost guards host-only transitions. The existing protocol trusted any
// socket here; restricting to the host connection closes that hole without
// touching the wire format.
func (r *Room) fromHost(m *Inbound) bool {
	if r.host == nil || m.sender == nil || m.sender != r.host {
		log.WithFields(log.Fields{"room": r.ID, "type": string(m.Type)}).
			Info("non-host attempted a host-only action")
		return false
	}
	return true
}

// broadcastLists fans the authoritative lists out to the whole room,
// attaching the playing slot only on the advance path like the existing
// protocol does.
func (r *Room) broadcastLists(withCurrent bool) {
	snap := &RoomSnapshot{
		Type:                  TypeUpdateList,
		Songs:                 r.queue,
		PreviouslyPlayedSongs: r.history,
	}
	if withCurrent {
		snap.CurrentlyPlaying = r.currentCopy()
	}
	r.broadcast(snap)
}

// currentCopy snapshots the playing slot by value. Outbound payloads sit in
// per-client send queues and are marshalled on the write pumps, so they can
// never alias state a later pause or resume mutates.
func (r *Room) currentCopy() *PlayingSong {
	if r.current == nil {
		return nil
	}
	cur := *r.current
	return &cur
}

// broadcast delivers payload to every participant. A failed send is logged
// and skipped; one saturated or dying connection never blocks the rest.
func (r *Room) broadcast(payload interface{}) {
	for id, c := range r.clients {
		if err := c.Send(payload); err != nil {
			log.WithError(err).WithFields(log.Fields{"room": r.ID, "user": id}).
				Error("dropping broadcast to participant")
		}
	}
}

// send replies to a single session, with the same failure isolation.
func (r *Room) send(c ClientSession, payload interface{}) {
	if err := c.Send(payload); err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.ID}).
			Error("dropping reply to participant")
	}
}

// persistQueue writes the queue shadow copy through to the durable cache.
// The cache lags rather than fails the mutation: a write error is logged
// and the live room stays correct.
func (r *Room) persistQueue() {
	data, err := json.Marshal(r.queue)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.ID}).Error("queue snapshot marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.SaveSongs(ctx, r.ID, data); err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.ID}).Error("queue snapshot write failed")
	}
}

func (r *Room) persistHistory() {
	data, err := json.Marshal(r.history)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.ID}).Error("history snapshot marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.SaveHistory(ctx, r.ID, data); err != nil {
		log.WithError(err).WithFields(log.Fields{"room": r.ID}).Error("history snapshot write failed")
	}
}
