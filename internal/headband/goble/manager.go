// Package goble implements headband discovery and the connection lifecycle on
// github.com/go-ble/ble. It does not decode telemetry: data listeners are
// recorded and receive nothing.
package goble

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/groutine"
	"github.com/srg/museb/internal/headband"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

const blePackage = "github.com/go-ble/ble"

// Options configures discovery and connection.
type Options struct {
	// NamePrefix selects advertisements by local name.
	NamePrefix string `default:"Muse"`
	// ConnectTimeout bounds each Dial.
	ConnectTimeout time.Duration `default:"10s"`
	// AllowList and BlockList filter by address when non-empty.
	AllowList []string
	BlockList []string
}

// Manager scans for headbands whose advertised name starts with Options.NamePrefix.
type Manager struct {
	opts   Options
	logger *logrus.Logger

	// known holds every handle ever created, keyed by address, so handles stay stable across scans.
	known *hashmap.Map[string, *Headband]

	mu         sync.Mutex
	dev        ble.Device
	listener   headband.DeviceListListener
	discovered []headband.Headband
	cancel     context.CancelFunc
	scanDone   chan struct{}
}

// NewManager applies defaults to zero-valued options.
func NewManager(opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)

	return &Manager{
		opts:   opts,
		logger: logger,
		known:  hashmap.New[string, *Headband](),
	}
}

func (m *Manager) SetDeviceListListener(l headband.DeviceListListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// StartListening opens the BLE device on first use and starts a background scan.
// Scan failures after start are logged. It is a no-op while already scanning.
func (m *Manager) StartListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return nil
	}

	dev, err := m.deviceLocked()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.scanDone = done

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		defer close(done)

		m.logger.WithField("prefix", m.opts.NamePrefix).Info("Starting BLE scan...")
		err := dev.Scan(ctx, true, m.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.logger.WithError(NormalizeError(err)).Error("BLE scan failed")
			return
		}
		m.logger.Debug("BLE scan stopped")
	})
	return nil
}

// StopListening stops the scan and clears the device list. It waits briefly for the scan to end.
func (m *Manager) StopListening() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.scanDone
	m.cancel, m.scanDone = nil, nil
	m.discovered = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		m.logger.Warn("BLE scan did not stop in time")
	}
	return nil
}

func (m *Manager) Devices() []headband.Headband {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]headband.Headband(nil), m.discovered...)
}

// Version reports the go-ble module version linked into the binary.
func (m *Manager) Version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if dep.Path != blePackage {
				continue
			}
			if dep.Replace != nil {
				return "go-ble " + dep.Replace.Version
			}
			return "go-ble " + dep.Version
		}
	}
	return "go-ble (devel)"
}

// Close stops scanning and releases the BLE device.
func (m *Manager) Close() error {
	_ = m.StopListening()

	m.mu.Lock()
	dev := m.dev
	m.dev = nil
	m.mu.Unlock()

	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}

func (m *Manager) device() (ble.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceLocked()
}

func (m *Manager) deviceLocked() (ble.Device, error) {
	if m.dev != nil {
		return m.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	m.dev = dev
	return dev, nil
}

func (m *Manager) handleAdvertisement(adv ble.Advertisement) {
	name := adv.LocalName()
	if !strings.HasPrefix(name, m.opts.NamePrefix) {
		return
	}
	addr := adv.Addr().String()
	if !m.allowed(addr) {
		return
	}

	h, existing := m.known.Get(addr)
	if !existing {
		h, _ = m.known.GetOrInsert(addr, newHeadband(m, name, addr, m.logger))
	}
	h.updateRSSI(adv.RSSI())

	m.mu.Lock()
	if m.cancel == nil {
		// advertisement delivered after StopListening
		m.mu.Unlock()
		return
	}
	for _, d := range m.discovered {
		if d == h {
			m.mu.Unlock()
			return
		}
	}
	m.discovered = append(m.discovered, h)
	l := m.listener
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"device":  name,
		"address": addr,
		"rssi":    adv.RSSI(),
	}).Info("Discovered new headband")

	if l != nil {
		l.DeviceListChanged()
	}
}

func (m *Manager) allowed(addr string) bool {
	for _, blocked := range m.opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}
	if len(m.opts.AllowList) == 0 {
		return true
	}
	for _, a := range m.opts.AllowList {
		if strings.EqualFold(addr, a) {
			return true
		}
	}
	return false
}
