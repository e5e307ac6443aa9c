package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/headband"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SessionState tracks where the dispatcher is in the scan/connect cycle.
type SessionState int

const (
	Idle SessionState = iota
	Scanning
	DeviceListKnown
	Connecting
	Connected
	Disconnected
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case DeviceListKnown:
		return "device-list-known"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Options tune the dispatcher behavior left open by the host contract.
type Options struct {
	// DuplicateNames decides how the catalog publishes devices sharing a name.
	DuplicateNames DuplicateNamePolicy
	// ResetSubscribersOnConnect scopes connection, data and artifact subscriptions
	// to one connect cycle: on each Connect, subscriptions registered before the
	// previous Connect are dropped. Device-list subscriptions are never dropped.
	ResetSubscribersOnConnect bool
}

// Stats counts inbound events and dropped records since creation.
type Stats struct {
	Received map[EventKind]int64
	Dropped  int64
}

// Dispatcher receives SDK events, normalizes them and fans them out through its Registry.
// All methods are safe for concurrent use; SDK callbacks may arrive on any goroutine.
type Dispatcher struct {
	manager  headband.Manager
	registry *Registry
	catalog  *Catalog
	opts     Options
	logger   *logrus.Logger

	mu      sync.Mutex
	forward *orderedmap.OrderedMap[headband.PacketType, struct{}]
	current headband.Headband
	state   SessionState
	// closing is set between Disconnect and the headband's Disconnected event.
	closing bool
	// staleDisconnect marks that the current handle was reconnected while closing;
	// the pending Disconnected event belongs to the previous session.
	staleDisconnect bool

	deviceListListener *deviceListAdapter
	connectionListener *connectionAdapter
	dataListener       *dataAdapter

	received [4]atomic.Int64
	dropped  atomic.Int64
}

// NewDispatcher wires a dispatcher to manager and installs its device-list listener.
// The device-list listener stays installed for the life of the dispatcher.
func NewDispatcher(manager headband.Manager, sink Sink, opts Options, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}

	d := &Dispatcher{
		manager:  manager,
		registry: NewRegistry(sink, logger),
		catalog:  NewCatalog(opts.DuplicateNames, logger),
		opts:     opts,
		logger:   logger,
		forward:  orderedmap.New[headband.PacketType, struct{}](),
		state:    Idle,
	}
	d.deviceListListener = &deviceListAdapter{dispatcher: d}
	d.connectionListener = &connectionAdapter{dispatcher: d}
	d.dataListener = &dataAdapter{dispatcher: d}

	manager.SetDeviceListListener(d.deviceListListener)
	return d
}

// Registry exposes the subscriber registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Catalog exposes the device catalog.
func (d *Dispatcher) Catalog() *Catalog { return d.catalog }

// RegisterDeviceListListener subscribes to device-list payloads.
func (d *Dispatcher) RegisterDeviceListListener(receiverID, handler string) Token {
	return d.registry.Register(DeviceListEvent, receiverID, handler)
}

// RegisterConnectionListener subscribes to connection-state payloads.
func (d *Dispatcher) RegisterConnectionListener(receiverID, handler string) Token {
	return d.registry.Register(ConnectionEvent, receiverID, handler)
}

// RegisterDataListener subscribes to telemetry payloads.
func (d *Dispatcher) RegisterDataListener(receiverID, handler string) Token {
	return d.registry.Register(DataEvent, receiverID, handler)
}

// RegisterArtifactListener subscribes to artifact payloads.
func (d *Dispatcher) RegisterArtifactListener(receiverID, handler string) Token {
	return d.registry.Register(ArtifactEvent, receiverID, handler)
}

// Unsubscribe removes one registration.
func (d *Dispatcher) Unsubscribe(token Token) bool {
	return d.registry.Unsubscribe(token)
}

// ListenForDataPacket adds the named category to the set subscribed at connect time.
// Adding a category twice has no effect. Categories added while connected apply to the next Connect.
func (d *Dispatcher) ListenForDataPacket(name string) error {
	t, err := ParseCategory(name)
	if err != nil {
		d.logger.WithError(err).Error("Invalid data packet type requested")
		return err
	}

	d.mu.Lock()
	d.forward.Set(t, struct{}{})
	d.mu.Unlock()
	return nil
}

// ForwardSet returns the requested categories in request order.
func (d *Dispatcher) ForwardSet() []string {
	types := d.forwardTypes()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, CategoryName(t))
	}
	return names
}

// StartScan restarts SDK discovery with a fresh device list.
// At least one device-list subscriber is required; without one no discovery would ever be delivered.
func (d *Dispatcher) StartScan() error {
	if d.registry.Len(DeviceListEvent) == 0 {
		d.logger.Error(ErrNoDeviceListListener.Error())
		return ErrNoDeviceListListener
	}

	if err := d.manager.StopListening(); err != nil {
		d.logger.WithError(err).Debug("Stop listening before restart failed")
	}

	// enter Scanning first: a backend may report devices before StartListening returns
	d.mu.Lock()
	previous := d.state
	switch d.state {
	case Idle, DeviceListKnown, Disconnected:
		d.state = Scanning
	}
	d.mu.Unlock()

	if err := d.manager.StartListening(); err != nil {
		d.mu.Lock()
		if d.state == Scanning {
			d.state = previous
		}
		d.mu.Unlock()
		return fmt.Errorf("failed to start scanning: %w", err)
	}

	d.logger.Info("Scanning for headbands")
	return nil
}

// StopScan stops SDK discovery. The last published device list stays resolvable.
func (d *Dispatcher) StopScan() error {
	if err := d.manager.StopListening(); err != nil {
		return fmt.Errorf("failed to stop scanning: %w", err)
	}

	d.mu.Lock()
	if d.state == Scanning {
		d.state = Idle
	}
	d.mu.Unlock()
	return nil
}

// Connect binds the named device and starts its asynchronous session.
// It is a no-op while that device is already connecting or connected.
func (d *Dispatcher) Connect(name string) error {
	h, err := d.catalog.Resolve(name)
	if err != nil {
		d.logger.WithError(err).Error("Chosen headband couldn't be found, scan for headbands first")
		return err
	}

	d.mu.Lock()
	active := h == d.current && !d.closing && (d.state == Connecting || d.state == Connected)
	state := d.state
	d.mu.Unlock()
	if active {
		d.logger.WithFields(logrus.Fields{"name": name, "state": state}).Info("Headband already connected")
		return nil
	}

	if err := d.manager.StopListening(); err != nil {
		d.logger.WithError(err).Warn("Failed to stop scanning before connect")
	}

	if d.opts.ResetSubscribersOnConnect {
		if n := d.registry.Expire(ConnectionEvent, DataEvent, ArtifactEvent); n > 0 {
			d.logger.WithField("removed", n).Info("Dropped subscriptions from the previous session")
		}
	}

	types := d.forwardTypes()

	d.mu.Lock()
	d.staleDisconnect = d.closing && d.current == h
	d.closing = false
	d.current = h
	d.state = Connecting
	d.mu.Unlock()

	h.UnregisterAllListeners()
	h.RegisterConnectionListener(d.connectionListener)
	for _, t := range types {
		h.RegisterDataListener(d.dataListener, t)
	}

	d.logger.WithFields(logrus.Fields{
		"name":       name,
		"id":         h.ID(),
		"categories": len(types),
	}).Info("Connecting to headband")

	h.RunAsynchronously()
	return nil
}

// Disconnect tears down the current session. It fails with ErrNotConnected when no session exists.
func (d *Dispatcher) Disconnect() error {
	d.mu.Lock()
	h := d.current
	if h != nil {
		d.closing = true
	}
	d.mu.Unlock()

	if h == nil {
		return ErrNotConnected
	}
	if err := h.Disconnect(); err != nil {
		d.mu.Lock()
		if d.current == h {
			d.closing = false
		}
		d.mu.Unlock()
		return fmt.Errorf("failed to disconnect from %s: %w", h.Name(), err)
	}
	return nil
}

// Version returns the SDK version string.
func (d *Dispatcher) Version() string {
	return d.manager.Version()
}

// State returns the current session state.
func (d *Dispatcher) State() SessionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns event counters.
func (d *Dispatcher) Stats() Stats {
	s := Stats{Received: make(map[EventKind]int64, len(d.received)), Dropped: d.dropped.Load()}
	for _, k := range EventKinds() {
		s.Received[k] = d.received[k].Load()
	}
	return s
}

// OnDeviceListChanged publishes a new discovery snapshot.
func (d *Dispatcher) OnDeviceListChanged(devices []headband.Headband) {
	d.received[DeviceListEvent].Add(1)
	names := d.catalog.Replace(devices)

	d.mu.Lock()
	if d.state == Idle || d.state == Scanning {
		d.state = DeviceListKnown
	}
	d.mu.Unlock()

	d.logger.WithField("devices", names).Debug("Device list changed")
	d.registry.Notify(DeviceListEvent, names)
}

// OnConnectionChanged publishes a connection state transition.
func (d *Dispatcher) OnConnectionChanged(p headband.ConnectionPacket, h headband.Headband) {
	d.received[ConnectionEvent].Add(1)
	d.trackSession(p, h)

	payload, err := encodeRecord(ConnectionEvent, NewConnectionStatusRecord(p))
	if err != nil {
		d.drop(err)
		return
	}
	d.registry.Notify(ConnectionEvent, payload)
}

// OnDataPacket publishes one telemetry sample.
func (d *Dispatcher) OnDataPacket(p headband.DataPacket) {
	d.received[DataEvent].Add(1)

	if !p.Type.Valid() {
		d.drop(&SerializationError{Kind: DataEvent, Err: fmt.Errorf("unknown packet type %d", p.Type)})
		return
	}

	payload, err := encodeRecord(DataEvent, NewTelemetryRecord(p))
	if err != nil {
		d.drop(err)
		return
	}
	d.registry.Notify(DataEvent, payload)
}

// OnArtifactPacket publishes one artifact sample.
func (d *Dispatcher) OnArtifactPacket(p headband.ArtifactPacket) {
	d.received[ArtifactEvent].Add(1)

	payload, err := encodeRecord(ArtifactEvent, NewArtifactRecord(p))
	if err != nil {
		d.drop(err)
		return
	}
	d.registry.Notify(ArtifactEvent, payload)
}

func (d *Dispatcher) trackSession(p headband.ConnectionPacket, h headband.Headband) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h != nil && h != d.current {
		// late event from a previous session
		return
	}

	switch p.Current {
	case headband.StateConnecting:
		d.state = Connecting
	case headband.StateConnected:
		d.state = Connected
	case headband.StateDisconnected:
		if d.staleDisconnect {
			d.staleDisconnect = false
			return
		}
		d.state = Disconnected
		d.current = nil
		d.closing = false
	}
}

func (d *Dispatcher) drop(err error) {
	d.dropped.Add(1)
	d.logger.WithError(err).Error("Dropping event")
}

func (d *Dispatcher) forwardTypes() []headband.PacketType {
	d.mu.Lock()
	defer d.mu.Unlock()

	types := make([]headband.PacketType, 0, d.forward.Len())
	for pair := d.forward.Oldest(); pair != nil; pair = pair.Next() {
		types = append(types, pair.Key)
	}
	return types
}

// deviceListAdapter forwards manager discovery callbacks to its dispatcher.
type deviceListAdapter struct {
	dispatcher *Dispatcher
}

func (a *deviceListAdapter) DeviceListChanged() {
	a.dispatcher.OnDeviceListChanged(a.dispatcher.manager.Devices())
}

type connectionAdapter struct {
	dispatcher *Dispatcher
}

func (a *connectionAdapter) ConnectionChanged(p headband.ConnectionPacket, h headband.Headband) {
	a.dispatcher.OnConnectionChanged(p, h)
}

type dataAdapter struct {
	dispatcher *Dispatcher
}

func (a *dataAdapter) DataReceived(p headband.DataPacket, _ headband.Headband) {
	a.dispatcher.OnDataPacket(p)
}

func (a *dataAdapter) ArtifactReceived(p headband.ArtifactPacket, _ headband.Headband) {
	a.dispatcher.OnArtifactPacket(p)
}
