package bridge

import (
	"errors"
	"sync"

	"github.com/srg/museb/internal/headband"
)

type sentMessage struct {
	Receiver string
	Handler  string
	Payload  string
}

// recordingSink keeps every delivery; receivers listed in failFor return an error
// and receivers listed in panicFor panic.
type recordingSink struct {
	mu       sync.Mutex
	sent     []sentMessage
	failFor  map[string]bool
	panicFor map[string]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failFor: map[string]bool{}, panicFor: map[string]bool{}}
}

func (s *recordingSink) Send(receiverID, handler, payload string) error {
	if s.panicFor[receiverID] {
		panic("receiver " + receiverID + " exploded")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[receiverID] {
		return errors.New("receiver " + receiverID + " unavailable")
	}
	s.sent = append(s.sent, sentMessage{receiverID, handler, payload})
	return nil
}

func (s *recordingSink) Messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *recordingSink) Payloads() []string {
	var out []string
	for _, m := range s.Messages() {
		out = append(out, m.Payload)
	}
	return out
}

type fakeHeadband struct {
	name, id string

	mu                  sync.Mutex
	connectionListeners []headband.ConnectionListener
	dataListeners       map[headband.PacketType]headband.DataListener
	registeredTypes     []headband.PacketType
	unregisterCalls     int
	runCalls            int
	disconnectCalls     int
	disconnectErr       error
	// asyncDisconnect leaves the Disconnected event to the test, like a real SDK session goroutine.
	asyncDisconnect bool
}

func newFakeHeadband(name, id string) *fakeHeadband {
	return &fakeHeadband{name: name, id: id, dataListeners: map[headband.PacketType]headband.DataListener{}}
}

func (h *fakeHeadband) Name() string { return h.name }
func (h *fakeHeadband) ID() string   { return h.id }

func (h *fakeHeadband) RegisterConnectionListener(l headband.ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionListeners = append(h.connectionListeners, l)
}

func (h *fakeHeadband) RegisterDataListener(l headband.DataListener, t headband.PacketType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dataListeners[t] = l
	h.registeredTypes = append(h.registeredTypes, t)
}

func (h *fakeHeadband) UnregisterAllListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterCalls++
	h.connectionListeners = nil
	h.dataListeners = map[headband.PacketType]headband.DataListener{}
	h.registeredTypes = nil
}

func (h *fakeHeadband) RunAsynchronously() {
	h.mu.Lock()
	h.runCalls++
	h.mu.Unlock()
}

func (h *fakeHeadband) Disconnect() error {
	h.mu.Lock()
	h.disconnectCalls++
	err := h.disconnectErr
	async := h.asyncDisconnect
	h.mu.Unlock()
	if err == nil && !async {
		h.emitConnection(headband.StateConnected, headband.StateDisconnected)
	}
	return err
}

func (h *fakeHeadband) emitConnection(prev, cur headband.ConnectionState) {
	h.mu.Lock()
	listeners := append([]headband.ConnectionListener(nil), h.connectionListeners...)
	h.mu.Unlock()
	for _, l := range listeners {
		l.ConnectionChanged(headband.ConnectionPacket{Previous: prev, Current: cur}, h)
	}
}

func (h *fakeHeadband) emitData(p headband.DataPacket) bool {
	h.mu.Lock()
	l, ok := h.dataListeners[p.Type]
	h.mu.Unlock()
	if ok {
		l.DataReceived(p, h)
	}
	return ok
}

func (h *fakeHeadband) emitArtifact(p headband.ArtifactPacket) bool {
	h.mu.Lock()
	l, ok := h.dataListeners[headband.Artifacts]
	h.mu.Unlock()
	if ok {
		l.ArtifactReceived(p, h)
	}
	return ok
}

type fakeManager struct {
	mu        sync.Mutex
	listener  headband.DeviceListListener
	devices   []headband.Headband
	starts    int
	stops     int
	startErr  error
	version   string
	listening bool
}

func (m *fakeManager) SetDeviceListListener(l headband.DeviceListListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

func (m *fakeManager) StartListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.starts++
	m.listening = true
	return nil
}

func (m *fakeManager) StopListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.listening = false
	return nil
}

func (m *fakeManager) Devices() []headband.Headband {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]headband.Headband(nil), m.devices...)
}

func (m *fakeManager) Version() string { return m.version }

// discover replaces the device list and fires the listener, like an SDK scan callback.
func (m *fakeManager) discover(devices ...headband.Headband) {
	m.mu.Lock()
	m.devices = devices
	l := m.listener
	m.mu.Unlock()
	if l != nil {
		l.DeviceListChanged()
	}
}
