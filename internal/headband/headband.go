// Package headband defines the contract this repository expects from a
// headband SDK: a manager that discovers devices and per-device handles that
// connect and stream packets. Backends live in sub-packages.
package headband

// Manager discovers headbands and reports discovery changes.
type Manager interface {
	// SetDeviceListListener installs the listener notified when the list of discovered devices changes.
	SetDeviceListListener(l DeviceListListener)
	// StartListening starts discovery. Devices found so far remain in the list.
	StartListening() error
	// StopListening stops discovery.
	StopListening() error
	// Devices returns a snapshot of the currently discovered devices, in discovery order.
	Devices() []Headband
	// Version returns the SDK version string.
	Version() string
}

// Headband is an opaque handle to one discovered device.
type Headband interface {
	Name() string
	// ID returns the hardware identifier (MAC address or platform UUID).
	ID() string

	RegisterConnectionListener(l ConnectionListener)
	RegisterDataListener(l DataListener, t PacketType)
	UnregisterAllListeners()

	// RunAsynchronously connects and starts streaming in the background.
	// Progress is reported only through the registered listeners.
	RunAsynchronously()
	// Disconnect ends the session asynchronously. Its Disconnected event is
	// delivered before any event of a session started after it.
	Disconnect() error
}

// DeviceListListener is notified when the manager's device list changes.
type DeviceListListener interface {
	DeviceListChanged()
}

// ConnectionListener is notified on every connection state transition.
type ConnectionListener interface {
	ConnectionChanged(p ConnectionPacket, h Headband)
}

// DataListener receives data and artifact packets for the packet types it was registered for.
type DataListener interface {
	DataReceived(p DataPacket, h Headband)
	ArtifactReceived(p ArtifactPacket, h Headband)
}

// DeviceListListenerFunc adapts a function to DeviceListListener.
type DeviceListListenerFunc func()

func (f DeviceListListenerFunc) DeviceListChanged() { f() }
