package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Strum355/log"

	"github.com/roomsync-live/roomsync/lookup"
	"github.com/roomsync-live/roomsync/store"
)

// Server is the session registry: the single in-process owner of all live
// rooms. The map is only guarded for lookup and registration; everything
// inside a room is serialised by that room's manager goroutine.
type Server struct {
	rooms map[string]*Room
	mutex sync.RWMutex

	store    store.Store
	resolver lookup.Resolver

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a server backed by the given durable cache and
// metadata resolver.
func NewServer(st store.Store, resolver lookup.Resolver) *Server {
	return &Server{
		rooms:    make(map[string]*Room),
		store:    st,
		resolver: resolver,
		closing:  make(chan struct{}),
	}
}

// Route dispatches one decoded client message. owner_create_room may create
// a registry entry; everything else resolves the target room or answers the
// sender alone with room_not_exist, never touching other participants.
func (s *Server) Route(m *Inbound) {
	if m.Type == TypeOwnerCreateRoom {
		s.createRoom(m)
		return
	}

	s.mutex.RLock()
	room, ok := s.rooms[m.RoomID]
	s.mutex.RUnlock()
	if !ok {
		if m.sender != nil {
			if err := m.sender.Send(&Notice{Type: TypeRoomNotExist}); err != nil {
				log.WithError(err).Error("dropping room_not_exist reply")
			}
		}
		return
	}

	select {
	case room.recvQueue <- m:
	case <-room.closing:
		// the room ended while we held a reference to it
		if m.sender != nil {
			m.sender.Send(&Notice{Type: TypeRoomNotExist})
		}
	}
}

// createRoom restores the session for a host id. If the room is already
// live this is a host reattach and the cache is left alone: the durable
// copy is only authoritative while no live session exists.
func (s *Server) createRoom(m *Inbound) {
	s.mutex.RLock()
	room, ok := s.rooms[m.ID]
	s.mutex.RUnlock()
	if ok {
		select {
		case room.recvQueue <- m:
		case <-room.closing:
		}
		return
	}

	// cache read happens before the room exists, so it blocks no one; a
	// failed read degrades to an empty session rather than blocking creation
	queue, history := s.restoreState(m.ID)
	room = NewRoom(m.ID, s, queue, history)

	s.mutex.Lock()
	if existing, raced := s.rooms[m.ID]; raced {
		// a concurrent create won the registration, reuse it
		room = existing
	} else {
		s.rooms[m.ID] = room
		go room.RunManager()
		log.WithFields(log.Fields{"room": m.ID}).Info("room registered")
	}
	s.mutex.Unlock()

	select {
	case room.recvQueue <- m:
	case <-room.closing:
	}
}

func (s *Server) restoreState(roomID string) ([]Song, []Song) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rawQueue, rawHistory, err := s.store.Load(ctx, roomID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"room": roomID}).
			Error("cache restore failed, starting empty")
		return nil, nil
	}
	var queue, history []Song
	if len(rawQueue) > 0 {
		if err := json.Unmarshal(rawQueue, &queue); err != nil {
			log.WithError(err).WithFields(log.Fields{"room": roomID}).
				Error("cached queue unreadable, starting empty")
			queue = nil
		}
	}
	if len(rawHistory) > 0 {
		if err := json.Unmarshal(rawHistory, &history); err != nil {
			log.WithError(err).WithFields(log.Fields{"room": roomID}).
				Error("cached history unreadable, starting empty")
			history = nil
		}
	}
	return queue, history
}

// removeRoom deregisters a room; called by the room's own manager on end.
func (s *Server) removeRoom(r *Room) {
	s.mutex.Lock()
	if existing, ok := s.rooms[r.ID]; ok && existing == r {
		delete(s.rooms, r.ID)
	}
	s.mutex.Unlock()
}

// RoomCount reports the number of live rooms.
func (s *Server) RoomCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.rooms)
}

// Shutdown evicts every room, letting each manager snapshot its lists to
// the cache before exiting. Safe to call more than once.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.mutex.Lock()
		for id, r := range s.rooms {
			r.shutdown()
			delete(s.rooms, id)
		}
		s.mutex.Unlock()
		log.Info("all rooms evicted")
	})
}
