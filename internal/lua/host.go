package lua

import (
	"fmt"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/bridge"
)

// Bridge is the dispatcher surface scripts can drive. *bridge.Dispatcher implements it.
type Bridge interface {
	RegisterDeviceListListener(receiverID, handler string) bridge.Token
	RegisterConnectionListener(receiverID, handler string) bridge.Token
	RegisterDataListener(receiverID, handler string) bridge.Token
	RegisterArtifactListener(receiverID, handler string) bridge.Token
	Unsubscribe(token bridge.Token) bool
	ListenForDataPacket(name string) error
	StartScan() error
	StopScan() error
	Connect(name string) error
	Disconnect() error
	Version() string
	State() bridge.SessionState
}

// HandlerError reports a receiver or handler that cannot be called.
type HandlerError struct {
	Receiver string
	Handler  string
	Reason   string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("cannot deliver to %s:%s: %s", e.Receiver, e.Handler, e.Reason)
}

// Host delivers bridge payloads to Lua and exposes the bridge to scripts as the
// global `muse` table.
//
// Send takes the engine lock. A dispatcher feeding a Host directly would
// deadlock when a script call such as muse.connect makes the SDK fire a
// callback synchronously, so hand the dispatcher a bridge.QueuedSink wrapping
// the Host instead.
type Host struct {
	engine *Engine
	logger *logrus.Logger

	mu     sync.RWMutex
	bridge Bridge
}

// NewHost installs the `muse` table into engine. Bind must be called before scripts use it.
func NewHost(engine *Engine, logger *logrus.Logger) *Host {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Host{engine: engine, logger: logger}
	_ = engine.DoWithState(func(L *lua.State) error {
		h.registerMuseTable(L)
		return nil
	})
	return h
}

// Bind attaches the dispatcher scripts talk to.
func (h *Host) Bind(b Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// Engine returns the underlying Lua engine.
func (h *Host) Engine() *Engine {
	return h.engine
}

// Send calls receiver:handler(payload), where receiver is a global table.
// Script errors are reported on the stderr output stream and returned.
func (h *Host) Send(receiverID, handler, payload string) error {
	return h.engine.DoWithState(func(L *lua.State) error {
		top := L.GetTop()
		defer L.SetTop(top)

		L.GetGlobal(receiverID)
		if !L.IsTable(-1) {
			return h.reportHandlerError(&HandlerError{receiverID, handler, "receiver is not a global table"})
		}
		L.GetField(-1, handler)
		if !L.IsFunction(-1) {
			return h.reportHandlerError(&HandlerError{receiverID, handler, "handler is not a function"})
		}
		L.PushValue(-2)
		L.PushString(payload)

		if err := L.Call(2, 0); err != nil {
			luaErr := parseLuaError("runtime", receiverID+":"+handler, err.Error())
			luaErr.Underlying = err
			h.engine.Emit(SourceStderr, luaErr.Error())
			return luaErr
		}
		return nil
	})
}

func (h *Host) reportHandlerError(err *HandlerError) error {
	h.engine.Emit(SourceStderr, err.Error())
	return err
}

func (h *Host) current() Bridge {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bridge
}

// registerMuseTable builds the global `muse` table.
func (h *Host) registerMuseTable(L *lua.State) {
	L.NewTable()

	h.pushRegister(L, "register_device_list_listener", Bridge.RegisterDeviceListListener)
	h.pushRegister(L, "register_connection_listener", Bridge.RegisterConnectionListener)
	h.pushRegister(L, "register_data_listener", Bridge.RegisterDataListener)
	h.pushRegister(L, "register_artifact_listener", Bridge.RegisterArtifactListener)

	h.pushFunction(L, "unsubscribe", func(L *lua.State, b Bridge) int {
		token := checkString(L, 1, "unsubscribe(token)")
		L.PushBoolean(b.Unsubscribe(bridge.Token(token)))
		return 1
	})

	h.pushFunction(L, "listen_for_data_packet", func(L *lua.State, b Bridge) int {
		return pushResult(L, b.ListenForDataPacket(checkString(L, 1, "listen_for_data_packet(name)")))
	})
	h.pushFunction(L, "start_listening", func(L *lua.State, b Bridge) int {
		return pushResult(L, b.StartScan())
	})
	h.pushFunction(L, "stop_listening", func(L *lua.State, b Bridge) int {
		return pushResult(L, b.StopScan())
	})
	h.pushFunction(L, "connect", func(L *lua.State, b Bridge) int {
		return pushResult(L, b.Connect(checkString(L, 1, "connect(name)")))
	})
	h.pushFunction(L, "disconnect", func(L *lua.State, b Bridge) int {
		return pushResult(L, b.Disconnect())
	})
	h.pushFunction(L, "version", func(L *lua.State, b Bridge) int {
		L.PushString(b.Version())
		return 1
	})
	h.pushFunction(L, "state", func(L *lua.State, b Bridge) int {
		L.PushString(b.State().String())
		return 1
	})

	// these two do not need a bound bridge
	L.PushString("categories")
	L.PushGoFunction(h.engine.SafeWrapGoFunction("muse.categories", func(L *lua.State) int {
		pushStrings(L, bridge.Categories())
		return 1
	}))
	L.SetTable(-3)

	L.PushString("decode")
	L.PushGoFunction(h.engine.SafeWrapGoFunction("muse.decode", func(L *lua.State) int {
		payload := checkString(L, 1, "decode(payload)")
		if err := pushJSON(L, payload); err != nil {
			L.PushNil()
			L.PushString(err.Error())
			return 2
		}
		return 1
	}))
	L.SetTable(-3)

	L.SetGlobal("muse")
}

type registerFunc func(b Bridge, receiverID, handler string) bridge.Token

func (h *Host) pushRegister(L *lua.State, name string, register registerFunc) {
	h.pushFunction(L, name, func(L *lua.State, b Bridge) int {
		usage := name + "(receiver, handler)"
		receiver := checkString(L, 1, usage)
		handler := checkString(L, 2, usage)
		L.PushString(string(register(b, receiver, handler)))
		return 1
	})
}

// pushFunction adds muse.<name> to the table on top of the stack.
func (h *Host) pushFunction(L *lua.State, name string, fn func(L *lua.State, b Bridge) int) {
	qualified := "muse." + name
	L.PushString(name)
	L.PushGoFunction(h.engine.SafeWrapGoFunction(qualified, func(L *lua.State) int {
		b := h.current()
		if b == nil {
			L.RaiseError(qualified + ": bridge not bound")
		}
		return fn(L, b)
	}))
	L.SetTable(-3)
}

// pushResult follows the Lua convention: true on success, nil plus message on failure.
func pushResult(L *lua.State, err error) int {
	if err != nil {
		L.PushNil()
		L.PushString(err.Error())
		return 2
	}
	L.PushBoolean(true)
	return 1
}

func checkString(L *lua.State, idx int, usage string) string {
	if !L.IsString(idx) {
		L.RaiseError(fmt.Sprintf("%s expects a string argument #%d", usage, idx))
	}
	return L.ToString(idx)
}
