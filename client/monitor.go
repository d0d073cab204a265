package client

import (
	"math"
	"sync"
	"time"

	"github.com/Strum355/log"

	"github.com/roomsync-live/roomsync/server"
)

const (
	// DriftCheckInterval is how often a playing client compares its local
	// player against the shared clock.
	DriftCheckInterval = 5 * time.Second
	// DriftThreshold is the divergence, in seconds, past which a client
	// flags itself as drifted.
	DriftThreshold = 5.0
	// StaleStartThreshold is how old a received clock base may be before a
	// joining client resyncs eagerly instead of starting visibly behind.
	StaleStartThreshold = 5000 * time.Millisecond
)

// Player is the controllable playback device a Monitor drives. SeekTo with
// resume true continues playing from the new position.
type Player interface {
	Play() error
	Pause() error
	SeekTo(seconds float64, resume bool) error
	CurrentTime() (float64, error)
	Duration() (float64, error)
}

// Monitor keeps a local player in agreement with the room's shared playback
// clock. It polls the player while the stream plays, flags itself once the
// divergence crosses the threshold, and stops acting on track-end until a
// resync brings it back in agreement.
type Monitor struct {
	player Player
	now    func() time.Time

	mu              sync.Mutex
	playedAt        int64 // server-clock ms base of the current segment
	songResumedTime float64
	clockOffset     int64 // serverNow - localNow, refined on every play edge
	streamPlaying   bool
	drifted         bool

	pollStop chan struct{}
}

// NewMonitor creates a monitor for player. The clock argument exists for
// tests; pass nil for wall time.
func NewMonitor(player Player, clock func() time.Time) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{player: player, now: clock}
}

func (m *Monitor) serverNowMilli() int64 {
	return m.now().UnixMilli() + m.clockOffset
}

// SetNowPlaying installs a freshly received playing slot, as on join or on
// an advance broadcast. A clock base already older than the stale threshold
// triggers an immediate resync before first playback, so a late joiner
// never starts from the beginning of a half-played track.
func (m *Monitor) SetNowPlaying(ps *server.PlayingSong) {
	m.mu.Lock()
	m.playedAt = ps.PlayedAt
	m.songResumedTime = ps.SongResumedTime
	m.streamPlaying = ps.IsPlaying
	m.drifted = false

	if time.Duration(m.serverNowMilli()-ps.PlayedAt)*time.Millisecond >= StaleStartThreshold {
		m.resyncLocked()
	}
	playing := m.streamPlaying
	m.mu.Unlock()

	if playing {
		m.player.Play()
		m.startPolling()
	} else {
		m.player.Pause()
		m.stopPolling()
	}
}

// HandlePlayEvent applies a resume edge. The server's new base instant also
// refines our estimate of the server clock, and the player's position just
// before resuming becomes the resume offset so the next drift check does
// not count the pause gap as drift.
func (m *Monitor) HandlePlayEvent(updatedPlayTime int64) {
	m.mu.Lock()
	if cur, err := m.player.CurrentTime(); err == nil && cur > m.songResumedTime {
		m.songResumedTime = cur
	}
	m.playedAt = updatedPlayTime
	m.clockOffset = updatedPlayTime - m.now().UnixMilli()
	m.streamPlaying = true
	m.mu.Unlock()

	m.player.Play()
	m.startPolling()
}

// HandlePauseEvent applies a pause edge: the local player stops and so does
// drift polling, since a frozen position cannot drift.
func (m *Monitor) HandlePauseEvent() {
	m.mu.Lock()
	m.streamPlaying = false
	m.mu.Unlock()

	m.player.Pause()
	m.stopPolling()
}

// Stop ends polling, as when the queue concludes or the room closes.
func (m *Monitor) Stop() {
	m.stopPolling()
}

// Drifted reports whether the player is flagged out of sync.
func (m *Monitor) Drifted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drifted
}

// CheckDrift compares the observed player position against the expected
// shared-clock position. Crossing the threshold flags the monitor and stops
// polling until Resync; further checks are no-ops while flagged.
func (m *Monitor) CheckDrift() bool {
	m.mu.Lock()
	if m.drifted {
		m.mu.Unlock()
		return false
	}
	cur, err := m.player.CurrentTime()
	if err != nil {
		m.mu.Unlock()
		return false
	}
	observed := math.Abs(math.Ceil(cur) - m.songResumedTime)
	expected := float64(m.serverNowMilli()-m.playedAt) / 1000.0
	drift := math.Abs(expected - observed)
	if drift < DriftThreshold {
		m.mu.Unlock()
		return false
	}
	m.drifted = true
	m.mu.Unlock()

	m.stopPolling()
	log.WithFields(log.Fields{"drift": drift}).Info("playback drift detected")
	return true
}

// Resync seeks the player to the expected position, clamped to the track
// duration, and resumes playback and polling.
func (m *Monitor) Resync() error {
	m.mu.Lock()
	err := m.resyncLocked()
	playing := m.streamPlaying
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if playing {
		m.startPolling()
	}
	return nil
}

func (m *Monitor) resyncLocked() error {
	seekTo := m.songResumedTime + float64(m.serverNowMilli()-m.playedAt)/1000.0
	if dur, err := m.player.Duration(); err == nil {
		seekTo = math.Min(seekTo, dur)
	}
	if err := m.player.SeekTo(seekTo, true); err != nil {
		return err
	}
	m.drifted = false
	return nil
}

// TrackEnded is the hook for the local player's end event. It reports
// whether this client may advance the shared queue: a drifted client
// resyncs instead, so an out-of-sync admin cannot cut a track short for
// everyone else.
func (m *Monitor) TrackEnded() bool {
	m.stopPolling()
	if m.Drifted() || m.CheckDrift() {
		m.Resync()
		return false
	}
	return true
}

func (m *Monitor) startPolling() {
	m.mu.Lock()
	if m.pollStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.pollStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(DriftCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckDrift()
			case <-stop:
				return
			}
		}
	}()
}

func (m *Monitor) stopPolling() {
	m.mu.Lock()
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
	m.mu.Unlock()
}
