package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/srg/museb/internal/headband"
)

// EventKind selects one of the four subscriber lists.
type EventKind int

const (
	DeviceListEvent EventKind = iota
	ConnectionEvent
	DataEvent
	ArtifactEvent
)

// EventKinds lists every kind in delivery-table order.
func EventKinds() []EventKind {
	return []EventKind{DeviceListEvent, ConnectionEvent, DataEvent, ArtifactEvent}
}

func (k EventKind) String() string {
	switch k {
	case DeviceListEvent:
		return "device-list"
	case ConnectionEvent:
		return "connection"
	case DataEvent:
		return "data"
	case ArtifactEvent:
		return "artifact"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range EventKinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q (must be device-list, connection, data or artifact)", s)
}

// ConnectionStatusRecord is the outbound form of a connection state transition.
type ConnectionStatusRecord struct {
	PreviousConnectionState headband.ConnectionState `json:"PreviousConnectionState"`
	CurrentConnectionState  headband.ConnectionState `json:"CurrentConnectionState"`
}

// TelemetryRecord is the outbound form of one data packet.
type TelemetryRecord struct {
	DataPacketType  string    `json:"DataPacketType"`
	DataPacketValue []float64 `json:"DataPacketValue"`
	TimeStamp       int64     `json:"TimeStamp"`
}

// ArtifactRecord is the outbound form of an artifact packet. Booleans travel as "true"/"false".
type ArtifactRecord struct {
	HeadbandOn string `json:"HeadbandOn"`
	Blink      string `json:"Blink"`
	JawClench  string `json:"JawClench"`
}

// NewConnectionStatusRecord copies both states verbatim.
func NewConnectionStatusRecord(p headband.ConnectionPacket) ConnectionStatusRecord {
	return ConnectionStatusRecord{
		PreviousConnectionState: p.Previous,
		CurrentConnectionState:  p.Current,
	}
}

// NewTelemetryRecord normalizes a data packet.
func NewTelemetryRecord(p headband.DataPacket) TelemetryRecord {
	return TelemetryRecord{
		DataPacketType:  CategoryName(p.Type),
		DataPacketValue: ExtractValues(p),
		TimeStamp:       p.Timestamp,
	}
}

// NewArtifactRecord renders the three detector flags.
func NewArtifactRecord(p headband.ArtifactPacket) ArtifactRecord {
	return ArtifactRecord{
		HeadbandOn: strconv.FormatBool(p.HeadbandOn),
		Blink:      strconv.FormatBool(p.Blink),
		JawClench:  strconv.FormatBool(p.JawClench),
	}
}

// encodeRecord marshals v into the string payload handed to sinks.
func encodeRecord(kind EventKind, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &SerializationError{Kind: kind, Err: err}
	}
	return string(data), nil
}
