package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/museb/internal/bridge"
	"github.com/srg/museb/internal/headband"
	"github.com/srg/museb/internal/lua"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the headband session ended while streaming.
	ErrConnectionLost = errors.New("connection lost")
	// ErrScanTimeout indicates the requested headband was not discovered in time.
	ErrScanTimeout = errors.New("headband not discovered before the scan timeout")
)

// FormatUserError turns internal errors into short messages with a hint where one helps.
func FormatUserError(err error) string {
	var luaErr *lua.LuaError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, headband.ErrBluetoothOff):
		return "Bluetooth is turned off: enable it and try again"
	case errors.Is(err, headband.ErrUnsupported):
		return fmt.Sprintf("%v (is a Bluetooth adapter available? try --backend replay)", err)
	case errors.Is(err, bridge.ErrDeviceNotFound), errors.Is(err, ErrScanTimeout):
		return fmt.Sprintf("%v (run 'museb scan' to list nearby headbands)", err)
	case errors.Is(err, bridge.ErrUnrecognizedCategory):
		return fmt.Sprintf("%v (run 'museb categories' for the list)", err)
	case errors.As(err, &luaErr):
		return luaErr.Error()
	default:
		return err.Error()
	}
}
