package replay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/groutine"
	"github.com/srg/museb/internal/headband"
)

// Headband plays one DeviceScript as a connection session.
type Headband struct {
	script DeviceScript
	logger *logrus.Logger

	mu                  sync.Mutex
	connectionListeners []headband.ConnectionListener
	dataListeners       map[headband.PacketType][]headband.DataListener
	state               headband.ConnectionState
	// session is the live session; Disconnect releases it at once.
	session *session
	// last is the most recently started session, live or still winding down.
	last *session
}

type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func newHeadband(script DeviceScript, logger *logrus.Logger) *Headband {
	return &Headband{
		script:        script,
		logger:        logger,
		dataListeners: make(map[headband.PacketType][]headband.DataListener),
		state:         headband.StateDisconnected,
	}
}

func (h *Headband) Name() string { return h.script.Name }
func (h *Headband) ID() string   { return h.script.ID }

func (h *Headband) RegisterConnectionListener(l headband.ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionListeners = append(h.connectionListeners, l)
}

func (h *Headband) RegisterDataListener(l headband.DataListener, t headband.PacketType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dataListeners[t] = append(h.dataListeners[t], l)
}

func (h *Headband) UnregisterAllListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionListeners = nil
	h.dataListeners = make(map[headband.PacketType][]headband.DataListener)
}

// State returns the current connection state.
func (h *Headband) State() headband.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// RunAsynchronously starts a playback session. A second call while a session runs is ignored.
func (h *Headband) RunAsynchronously() {
	h.mu.Lock()
	if h.session != nil {
		h.mu.Unlock()
		h.logger.WithField("name", h.Name()).Warn("Replay session already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	prev := h.last
	h.session = s
	h.last = s
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"name":    h.Name(),
		"session": s.id,
	}).Debug("Replay session starting")

	groutine.Go(ctx, "replay-session-"+h.Name(), func(ctx context.Context) {
		defer close(s.done)
		defer h.endSession(s)

		// the previous session reports its disconnection first
		if prev != nil {
			select {
			case <-prev.done:
			case <-ctx.Done():
				return
			}
		}
		h.play(ctx)
	})
}

// Disconnect cancels playback and frees the headband for a new session. The
// session goroutine reports the disconnection to connection listeners.
// It returns headband.ErrNotRunning when no session exists.
func (h *Headband) Disconnect() error {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()

	if s == nil {
		return headband.ErrNotRunning
	}
	s.cancel()
	return nil
}

// Wait blocks until the latest session, if any, has ended or ctx is done.
func (h *Headband) Wait(ctx context.Context) error {
	h.mu.Lock()
	s := h.last
	h.mu.Unlock()

	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Headband) play(ctx context.Context) {
	h.transition(headband.StateConnecting)
	h.transition(headband.StateConnected)

	for {
		for _, step := range h.script.Session {
			if !sleep(ctx, step.After.Std()) {
				return
			}

			switch {
			case step.Drop:
				h.logger.WithField("name", h.Name()).Debug("Replay link dropped")
				h.transition(headband.StateDisconnected)
				return
			case step.Data != nil:
				h.emitData(step.Data.packet())
			case step.Artifact != nil:
				h.emitArtifact(step.Artifact.packet())
			}
		}

		if !h.script.Loop || len(h.script.Session) == 0 {
			break
		}
	}

	// script exhausted, stay connected until Disconnect
	<-ctx.Done()
}

func (h *Headband) endSession(s *session) {
	h.mu.Lock()
	if h.session == s {
		h.session = nil
	}
	connected := h.state != headband.StateDisconnected
	h.mu.Unlock()

	if connected {
		h.transition(headband.StateDisconnected)
	}
}

func (h *Headband) transition(next headband.ConnectionState) {
	h.mu.Lock()
	p := headband.ConnectionPacket{Previous: h.state, Current: next}
	h.state = next
	listeners := append([]headband.ConnectionListener(nil), h.connectionListeners...)
	h.mu.Unlock()

	for _, l := range listeners {
		l.ConnectionChanged(p, h)
	}
}

func (h *Headband) emitData(p headband.DataPacket) {
	h.mu.Lock()
	listeners := append([]headband.DataListener(nil), h.dataListeners[p.Type]...)
	h.mu.Unlock()

	for _, l := range listeners {
		l.DataReceived(p, h)
	}
}

func (h *Headband) emitArtifact(p headband.ArtifactPacket) {
	h.mu.Lock()
	listeners := append([]headband.DataListener(nil), h.dataListeners[headband.Artifacts]...)
	h.mu.Unlock()

	for _, l := range listeners {
		l.ArtifactReceived(p, h)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
