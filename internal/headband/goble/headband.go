package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/groutine"
	"github.com/srg/museb/internal/headband"
)

// Headband is a discovered BLE headband.
type Headband struct {
	manager *Manager
	name    string
	addr    string
	logger  *logrus.Logger

	mu                  sync.Mutex
	rssi                int
	connectionListeners []headband.ConnectionListener
	dataTypes           []headband.PacketType
	state               headband.ConnectionState
	session             *bleSession // live session, released by Disconnect
	last                *bleSession // most recent session, possibly still closing
	client              ble.Client
}

type bleSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newHeadband(m *Manager, name, addr string, logger *logrus.Logger) *Headband {
	return &Headband{
		manager: m,
		name:    name,
		addr:    addr,
		logger:  logger,
		state:   headband.StateDisconnected,
	}
}

func (h *Headband) Name() string { return h.name }
func (h *Headband) ID() string   { return h.addr }

// RSSI returns the signal strength of the last advertisement.
func (h *Headband) RSSI() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rssi
}

func (h *Headband) updateRSSI(rssi int) {
	h.mu.Lock()
	h.rssi = rssi
	h.mu.Unlock()
}

func (h *Headband) RegisterConnectionListener(l headband.ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionListeners = append(h.connectionListeners, l)
}

// RegisterDataListener records the request. Packets are never delivered by this backend.
func (h *Headband) RegisterDataListener(_ headband.DataListener, t headband.PacketType) {
	h.mu.Lock()
	h.dataTypes = append(h.dataTypes, t)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"device": h.name,
		"type":   t,
	}).Debug("Data listener registered, telemetry decoding is not available over plain BLE")
}

func (h *Headband) UnregisterAllListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionListeners = nil
	h.dataTypes = nil
}

// RequestedTypes returns the packet types registered since the last UnregisterAllListeners.
func (h *Headband) RequestedTypes() []headband.PacketType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]headband.PacketType(nil), h.dataTypes...)
}

// RunAsynchronously dials the headband and watches the link until it drops or Disconnect is called.
// A session started while the previous one is closing dials once that one has reported its end.
func (h *Headband) RunAsynchronously() {
	h.mu.Lock()
	if h.session != nil {
		h.mu.Unlock()
		h.logger.WithField("device", h.name).Warn("Connection already in progress")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &bleSession{cancel: cancel, done: make(chan struct{})}
	prev := h.last
	h.session = s
	h.last = s
	h.mu.Unlock()

	groutine.Go(ctx, "ble-session-"+h.addr, func(ctx context.Context) {
		defer close(s.done)
		defer func() {
			h.mu.Lock()
			if h.session == s {
				h.session = nil
			}
			if h.last == s {
				h.client = nil
			}
			h.mu.Unlock()
			cancel()
		}()

		if prev != nil {
			select {
			case <-prev.done:
			case <-ctx.Done():
				return
			}
		}
		h.run(ctx)
	})
}

// Disconnect cancels the session and frees the headband for a new one.
// The session goroutine reports the transition.
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

func (h *Headband) run(ctx context.Context) {
	h.transition(headband.StateConnecting)

	dev, err := h.manager.device()
	if err != nil {
		h.logger.WithError(err).Error("BLE device unavailable")
		h.transition(headband.StateDisconnected)
		return
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, h.manager.opts.ConnectTimeout)
	h.logger.WithFields(logrus.Fields{
		"device":  h.name,
		"address": h.addr,
		"timeout": h.manager.opts.ConnectTimeout,
	}).Info("Connecting to headband...")
	client, err := dev.Dial(dialCtx, ble.NewAddr(h.addr))
	cancelDial()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"address": h.addr,
			"error":   NormalizeError(err),
		}).Error("Failed to dial headband")
		h.transition(headband.StateDisconnected)
		return
	}

	h.mu.Lock()
	h.client = client
	h.mu.Unlock()
	h.transition(headband.StateConnected)

	select {
	case <-client.Disconnected():
		h.logger.WithField("address", h.addr).Warn("Headband link lost")
	case <-ctx.Done():
		if err := client.CancelConnection(); err != nil {
			h.logger.WithError(NormalizeError(err)).Warn("Failed to cancel connection")
		}
	}
	h.transition(headband.StateDisconnected)
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
