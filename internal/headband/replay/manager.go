// Package replay implements the headband SDK contract from a YAML scenario.
// Discovery and sessions are timed by the scenario and run on background
// goroutines, so listeners are never invoked from inside a Manager or
// Headband method call.
package replay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/groutine"
	"github.com/srg/museb/internal/headband"
)

// Manager discovers the scenario's devices.
type Manager struct {
	scenario *Scenario
	logger   *logrus.Logger
	handles  []*Headband

	mu         sync.Mutex
	listener   headband.DeviceListListener
	discovered []headband.Headband
	cancel     context.CancelFunc
}

// NewManager creates one Headband per scenario device. Handles are stable across scans.
func NewManager(s *Scenario, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}

	m := &Manager{scenario: s, logger: logger}
	for _, script := range s.Devices {
		m.handles = append(m.handles, newHeadband(script, logger))
	}
	return m
}

func (m *Manager) SetDeviceListListener(l headband.DeviceListListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// StartListening schedules discovery of every scenario device. It is a no-op while already listening.
func (m *Manager) StartListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, h := range m.handles {
		h := h
		groutine.Go(ctx, "replay-discover-"+h.Name(), func(ctx context.Context) {
			timer := time.NewTimer(h.script.DiscoverAfter.Std())
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			m.discover(ctx, h)
		})
	}

	m.logger.WithField("devices", len(m.handles)).Debug("Replay discovery started")
	return nil
}

// StopListening cancels pending discoveries and clears the device list.
func (m *Manager) StopListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.discovered = nil
	return nil
}

func (m *Manager) Devices() []headband.Headband {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]headband.Headband(nil), m.discovered...)
}

// Version reports the scenario format version, e.g. "museb-replay/1.0".
func (m *Manager) Version() string {
	return "museb-replay/" + strings.TrimPrefix(m.scenario.Version, "replay ")
}

// Headbands returns every scenario device, discovered or not.
func (m *Manager) Headbands() []*Headband {
	return append([]*Headband(nil), m.handles...)
}

func (m *Manager) discover(ctx context.Context, h *Headband) {
	m.mu.Lock()
	if ctx.Err() != nil {
		// stopped between the timer firing and taking the lock
		m.mu.Unlock()
		return
	}
	m.discovered = append(m.discovered, h)
	l := m.listener
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"name": h.Name(),
		"id":   h.ID(),
	}).Debug("Replay device discovered")

	if l != nil {
		l.DeviceListChanged()
	}
}
