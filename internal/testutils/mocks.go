//go:build test

package testutils

import (
	"sync"

	"github.com/srg/museb/internal/headband"
	"github.com/stretchr/testify/mock"
)

// MockHeadband is a headband.Headband whose session calls are testify expectations.
// Listener registration is recorded so tests can push packets with the Emit helpers.
type MockHeadband struct {
	mock.Mock

	name, id string

	mu                  sync.Mutex
	connectionListeners []headband.ConnectionListener
	dataListeners       map[headband.PacketType]headband.DataListener
}

func (h *MockHeadband) Name() string { return h.name }
func (h *MockHeadband) ID() string   { return h.id }

func (h *MockHeadband) RegisterConnectionListener(l headband.ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionListeners = append(h.connectionListeners, l)
}

func (h *MockHeadband) RegisterDataListener(l headband.DataListener, t headband.PacketType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dataListeners[t] = l
}

func (h *MockHeadband) UnregisterAllListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionListeners = nil
	h.dataListeners = map[headband.PacketType]headband.DataListener{}
}

func (h *MockHeadband) RunAsynchronously() {
	h.Called()
}

func (h *MockHeadband) Disconnect() error {
	return h.Called().Error(0)
}

// RegisteredTypes returns the packet types that currently have a listener.
func (h *MockHeadband) RegisteredTypes() []headband.PacketType {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []headband.PacketType
	for _, t := range headband.PacketTypes() {
		if _, ok := h.dataListeners[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// EmitConnection reports a transition to every connection listener.
func (h *MockHeadband) EmitConnection(prev, cur headband.ConnectionState) {
	h.mu.Lock()
	listeners := append([]headband.ConnectionListener(nil), h.connectionListeners...)
	h.mu.Unlock()
	for _, l := range listeners {
		l.ConnectionChanged(headband.ConnectionPacket{Previous: prev, Current: cur}, h)
	}
}

// EmitData delivers p when a listener is registered for its type.
func (h *MockHeadband) EmitData(p headband.DataPacket) bool {
	h.mu.Lock()
	l, ok := h.dataListeners[p.Type]
	h.mu.Unlock()
	if ok {
		l.DataReceived(p, h)
	}
	return ok
}

// EmitArtifact delivers p when artifacts were requested.
func (h *MockHeadband) EmitArtifact(p headband.ArtifactPacket) bool {
	h.mu.Lock()
	l, ok := h.dataListeners[headband.Artifacts]
	h.mu.Unlock()
	if ok {
		l.ArtifactReceived(p, h)
	}
	return ok
}

// MockHeadbandBuilder sets up a MockHeadband. By default RunAsynchronously reports
// CONNECTING then CONNECTED and Disconnect reports DISCONNECTED.
type MockHeadbandBuilder struct {
	name, id      string
	autoConnect   bool
	disconnectErr error
}

func NewMockHeadband(name, id string) *MockHeadbandBuilder {
	return &MockHeadbandBuilder{name: name, id: id, autoConnect: true}
}

// WithoutAutoConnect leaves connection transitions to the test.
func (b *MockHeadbandBuilder) WithoutAutoConnect() *MockHeadbandBuilder {
	b.autoConnect = false
	return b
}

func (b *MockHeadbandBuilder) WithDisconnectError(err error) *MockHeadbandBuilder {
	b.disconnectErr = err
	return b
}

func (b *MockHeadbandBuilder) Build() *MockHeadband {
	h := &MockHeadband{
		name:          b.name,
		id:            b.id,
		dataListeners: map[headband.PacketType]headband.DataListener{},
	}

	run := h.On("RunAsynchronously").Maybe()
	if b.autoConnect {
		run.Run(func(mock.Arguments) {
			h.EmitConnection(headband.StateDisconnected, headband.StateConnecting)
			h.EmitConnection(headband.StateConnecting, headband.StateConnected)
		})
	}

	disconnect := h.On("Disconnect").Return(b.disconnectErr).Maybe()
	if b.disconnectErr == nil && b.autoConnect {
		disconnect.Run(func(mock.Arguments) {
			h.EmitConnection(headband.StateConnected, headband.StateDisconnected)
		})
	}
	return h
}

// MockManager is a headband.Manager whose discovery calls are testify expectations.
type MockManager struct {
	mock.Mock

	mu       sync.Mutex
	listener headband.DeviceListListener
	devices  []headband.Headband
}

func (m *MockManager) SetDeviceListListener(l headband.DeviceListListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

func (m *MockManager) StartListening() error {
	return m.Called().Error(0)
}

func (m *MockManager) StopListening() error {
	return m.Called().Error(0)
}

func (m *MockManager) Devices() []headband.Headband {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]headband.Headband(nil), m.devices...)
}

func (m *MockManager) Version() string {
	return m.Called().String(0)
}

// Discover appends devices and notifies the device-list listener.
func (m *MockManager) Discover(devices ...headband.Headband) {
	m.mu.Lock()
	m.devices = append(m.devices, devices...)
	l := m.listener
	m.mu.Unlock()
	if l != nil {
		l.DeviceListChanged()
	}
}

// MockManagerBuilder sets up a MockManager. Devices given to WithDevices are
// discovered each time StartListening succeeds.
type MockManagerBuilder struct {
	devices  []headband.Headband
	startErr error
	version  string
}

func NewMockManager() *MockManagerBuilder {
	return &MockManagerBuilder{version: "mock-sdk/1.0"}
}

func (b *MockManagerBuilder) WithDevices(devices ...headband.Headband) *MockManagerBuilder {
	b.devices = append(b.devices, devices...)
	return b
}

func (b *MockManagerBuilder) WithStartError(err error) *MockManagerBuilder {
	b.startErr = err
	return b
}

func (b *MockManagerBuilder) WithVersion(v string) *MockManagerBuilder {
	b.version = v
	return b
}

func (b *MockManagerBuilder) Build() *MockManager {
	m := &MockManager{}

	start := m.On("StartListening").Return(b.startErr).Maybe()
	if b.startErr == nil && len(b.devices) > 0 {
		devices := b.devices
		start.Run(func(mock.Arguments) { m.Discover(devices...) })
	}
	m.On("StopListening").Return(nil).Run(func(mock.Arguments) {
		m.mu.Lock()
		m.devices = nil
		m.mu.Unlock()
	}).Maybe()
	m.On("Version").Return(b.version).Maybe()
	return m
}

// SentMessage is one delivery captured by RecordingSink.
type SentMessage struct {
	Receiver string
	Handler  string
	Payload  string
}

// RecordingSink is a bridge.Sink that keeps every delivery.
type RecordingSink struct {
	mu   sync.Mutex
	sent []SentMessage
}

func (s *RecordingSink) Send(receiverID, handler, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentMessage{receiverID, handler, payload})
	return nil
}

func (s *RecordingSink) Messages() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// PayloadsFor returns the payloads delivered to receiver.handler, in order.
func (s *RecordingSink) PayloadsFor(receiver, handler string) []string {
	var out []string
	for _, m := range s.Messages() {
		if m.Receiver == receiver && m.Handler == handler {
			out = append(out, m.Payload)
		}
	}
	return out
}
