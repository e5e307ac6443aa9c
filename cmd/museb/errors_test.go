package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/museb/internal/bridge"
	"github.com/srg/museb/internal/headband"
	"github.com/srg/museb/internal/lua"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", fmt.Errorf("connect: %w", context.DeadlineExceeded), "operation timed out"},
		{"bluetooth off", fmt.Errorf("failed to start scanning: %w", headband.ErrBluetoothOff), "Bluetooth is turned off: enable it and try again"},
		{"unsupported", headband.ErrUnsupported, "unsupported (is a Bluetooth adapter available? try --backend replay)"},
		{"unknown device", &bridge.DeviceNotFoundError{Name: "Muse-Z"},
			`device "Muse-Z" not found: no devices discovered yet (run 'museb scan' to list nearby headbands)`},
		{"lua", fmt.Errorf("failed to execute script: %w", &lua.LuaError{Type: "syntax", Source: "app.lua", Line: 3, Message: "unexpected symbol"}),
			"Lua syntax error (in app.lua, line 3): unexpected symbol"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
