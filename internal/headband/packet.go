package headband

import (
	"fmt"
	"strings"
)

// PacketType enumerates the packet kinds a headband can stream.
type PacketType uint8

const (
	Accelerometer PacketType = iota
	Gyro
	EEG
	Quantization
	Battery
	DrlRef
	AlphaAbsolute
	BetaAbsolute
	DeltaAbsolute
	ThetaAbsolute
	GammaAbsolute
	AlphaRelative
	BetaRelative
	DeltaRelative
	ThetaRelative
	GammaRelative
	AlphaScore
	BetaScore
	DeltaScore
	ThetaScore
	GammaScore
	HsiPrecision
	Artifacts

	packetTypeCount
)

// PacketTypes returns every packet type in declaration order.
func PacketTypes() []PacketType {
	types := make([]PacketType, 0, packetTypeCount)
	for t := PacketType(0); t < packetTypeCount; t++ {
		types = append(types, t)
	}
	return types
}

// Valid reports whether t is a declared packet type.
func (t PacketType) Valid() bool {
	return t < packetTypeCount
}

func (t PacketType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
	return packetTypeNames[t]
}

// ParsePacketType matches s against the packet type names, ignoring case.
func ParsePacketType(s string) (PacketType, error) {
	for t, name := range packetTypeNames {
		if strings.EqualFold(name, s) {
			return PacketType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown packet type %q", s)
}

var packetTypeNames = [packetTypeCount]string{
	"accelerometer", "gyro", "eeg", "quantization", "battery", "drl_ref",
	"alpha_absolute", "beta_absolute", "delta_absolute", "theta_absolute", "gamma_absolute",
	"alpha_relative", "beta_relative", "delta_relative", "theta_relative", "gamma_relative",
	"alpha_score", "beta_score", "delta_score", "theta_score", "gamma_score",
	"hsi_precision", "artifacts",
}

// Value indices inside DataPacket.Values. The meaning of an index depends on the packet type.
const (
	// Accelerometer and gyro axes
	ForwardBackward = 0
	UpDown          = 1
	LeftRight       = 2

	// Battery
	ChargePercentageRemaining = 0
	Millivolts                = 1
	TemperatureCelsius        = 2

	// DRL/REF
	Drl = 0
	Ref = 1

	// EEG and EEG-derived channels
	EEG1     = 0
	EEG2     = 1
	EEG3     = 2
	EEG4     = 3
	AuxLeft  = 4
	AuxRight = 5
)

// DataPacket is one telemetry sample.
type DataPacket struct {
	Type      PacketType
	Timestamp int64 // microseconds, as reported by the SDK
	Values    []float64
}

// ValuesSize returns the number of values the packet carries.
func (p DataPacket) ValuesSize() int {
	return len(p.Values)
}

// ConnectionState mirrors the SDK connection state enumeration. The integer
// values are part of the outbound wire format.
type ConnectionState int

const (
	StateUnknown ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateNeedsUpdate
)

func (s ConnectionState) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateNeedsUpdate:
		return "NEEDS_UPDATE"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ConnectionPacket describes one connection state transition.
type ConnectionPacket struct {
	Previous ConnectionState
	Current  ConnectionState
}

// ArtifactPacket carries the headband's artifact detectors.
type ArtifactPacket struct {
	HeadbandOn bool
	Blink      bool
	JawClench  bool
}
