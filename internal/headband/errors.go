package headband

import "errors"

// Backend errors shared by SDK implementations.
var (
	ErrBluetoothOff   = errors.New("bluetooth is turned off")
	ErrAlreadyRunning = errors.New("headband session already running")
	ErrNotRunning     = errors.New("headband session not running")
	ErrUnsupported    = errors.New("unsupported")
)
