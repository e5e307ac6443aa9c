package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// UnrecognizedCategoryError is returned when a category name is not one of the known packet categories.
type UnrecognizedCategoryError struct {
	Name string
}

func (e *UnrecognizedCategoryError) Error() string {
	return fmt.Sprintf("unrecognized data packet category %q", e.Name)
}

// Is matches any *UnrecognizedCategoryError, so errors.Is(err, ErrUnrecognizedCategory) works for every name.
func (e *UnrecognizedCategoryError) Is(target error) bool {
	_, ok := target.(*UnrecognizedCategoryError)
	return ok
}

// DeviceNotFoundError is returned when a device name is not in the current catalog.
type DeviceNotFoundError struct {
	Name  string
	Known []string
}

func (e *DeviceNotFoundError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("device %q not found: no devices discovered yet", e.Name)
	}
	return fmt.Sprintf("device %q not found (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

func (e *DeviceNotFoundError) Is(target error) bool {
	_, ok := target.(*DeviceNotFoundError)
	return ok
}

// SerializationError wraps a failure to encode an outbound record.
// It is logged and the event dropped; it never reaches the SDK thread.
type SerializationError struct {
	Kind EventKind
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize %s record: %v", e.Kind, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Sentinels for errors.Is.
var (
	ErrUnrecognizedCategory = &UnrecognizedCategoryError{}
	ErrDeviceNotFound       = &DeviceNotFoundError{}
	ErrNotConnected         = errors.New("no headband session: connect first")
	ErrNoDeviceListListener = errors.New("register a device list listener before scanning, otherwise no discovery callbacks are delivered")
)
