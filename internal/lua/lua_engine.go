// Package lua hosts Lua scripts that consume bridge events and drive the bridge
// through the global `muse` table.
package lua

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/ringchan"
)

// Output sources.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
)

// DefaultOutputCapacity is the print buffer size used when none is given.
const DefaultOutputCapacity = 1024

// OutputRecord is one chunk of script output.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // SourceStdout or SourceStderr
}

// LuaError represents detailed Lua execution errors
type LuaError struct {
	Type       string // "syntax", "runtime", "api"
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *LuaError) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}

	prefix := "Lua error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("Lua %s error (%s)", e.Type, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *LuaError) Unwrap() error {
	return e.Underlying
}

func (e *LuaError) Is(target error) bool {
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

// Engine owns one Lua state. The state is not reentrant: every access goes
// through DoWithState, and Go functions called from Lua must not call back into it.
type Engine struct {
	state      *lua.State
	stateMutex sync.Mutex
	logger     *logrus.Logger
	output     *ringchan.RingChannel[OutputRecord]
	outputMu   sync.RWMutex
	outputDone bool
	closeOnce  sync.Once
}

// NewEngine creates a Lua state with the standard libraries and print capture.
func NewEngine(logger *logrus.Logger, outputCapacity int) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if outputCapacity <= 0 {
		outputCapacity = DefaultOutputCapacity
	}

	e := &Engine{
		logger: logger,
		output: ringchan.New[OutputRecord](outputCapacity),
		state:  lua.NewState(),
	}
	e.state.OpenLibs()
	e.registerPrintCapture()

	logger.Debug("Lua engine initialized")
	return e
}

// DoWithState runs fn with exclusive access to the Lua state.
func (e *Engine) DoWithState(fn func(L *lua.State) error) error {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state == nil {
		return &LuaError{Type: "api", Message: "engine closed"}
	}
	return fn(e.state)
}

// OutputChannel returns the channel of captured print output. It is closed by Close.
func (e *Engine) OutputChannel() <-chan OutputRecord {
	return e.output.C()
}

// OutputStats reports capture counters.
func (e *Engine) OutputStats() ringchan.Metrics {
	return e.output.Metrics()
}

// Emit adds a record to the output channel, dropping the oldest record when full.
// Records emitted after Close are discarded.
func (e *Engine) Emit(source, content string) {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	e.send(OutputRecord{Content: content, Timestamp: time.Now(), Source: source})
}

func (e *Engine) send(rec OutputRecord) {
	e.outputMu.RLock()
	defer e.outputMu.RUnlock()
	if !e.outputDone {
		e.output.Send(rec)
	}
}

// SafeWrapGoFunction turns a Go panic inside fn into a Lua error carrying name.
func (e *Engine) SafeWrapGoFunction(name string, fn lua.LuaGoFunction) lua.LuaGoFunction {
	return func(L *lua.State) int {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if luaErr, ok := r.(*lua.LuaError); ok {
				panic(luaErr)
			}
			e.logger.WithFields(logrus.Fields{
				"function": name,
				"panic":    r,
			}).Error("Go function panicked")
			L.RaiseError(fmt.Sprintf("%s: %v", name, r))
		}()
		return fn(L)
	}
}

// Execute compiles and runs script. name identifies the chunk in errors.
// Errors are also written to the stderr output stream.
func (e *Engine) Execute(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &LuaError{Type: "api", Message: "empty script", Source: name}
	}

	return e.DoWithState(func(L *lua.State) error {
		top := L.GetTop()
		defer L.SetTop(top)

		if status := L.LoadString(script); status != 0 {
			luaErr := parseLuaError("syntax", name, L.ToString(-1))
			e.Emit(SourceStderr, luaErr.Error())
			return luaErr
		}
		if err := L.Call(0, 0); err != nil {
			luaErr := parseLuaError("runtime", name, err.Error())
			luaErr.Underlying = err
			e.Emit(SourceStderr, luaErr.Error())
			return luaErr
		}
		return nil
	})
}

// ExecuteFile runs a script file.
func (e *Engine) ExecuteFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Execute(string(content), path)
}

// GetGlobalString returns a string global.
func (e *Engine) GetGlobalString(name string) (string, error) {
	var result string
	err := e.DoWithState(func(L *lua.State) error {
		L.GetGlobal(name)
		defer L.Pop(1)

		if !L.IsString(-1) {
			return fmt.Errorf("global variable %s is not a string", name)
		}
		result = L.ToString(-1)
		return nil
	})
	return result, err
}

// GetGlobalInteger returns a numeric global truncated to int.
func (e *Engine) GetGlobalInteger(name string) (int, error) {
	var result int
	err := e.DoWithState(func(L *lua.State) error {
		L.GetGlobal(name)
		defer L.Pop(1)

		if !L.IsNumber(-1) {
			return fmt.Errorf("global variable %s is not a number", name)
		}
		result = int(L.ToInteger(-1))
		return nil
	})
	return result, err
}

// Close releases the Lua state and closes the output channel.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.stateMutex.Lock()
		if e.state != nil {
			e.state.Close()
			e.state = nil
		}
		e.stateMutex.Unlock()

		e.outputMu.Lock()
		e.outputDone = true
		e.output.Close()
		e.outputMu.Unlock()
	})
}

func (e *Engine) registerPrintCapture() {
	L := e.state
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)

		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, strconv.FormatBool(L.ToBoolean(i)))
			case L.IsNumber(i):
				parts = append(parts, formatNumber(L.ToNumber(i)))
			case L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				// tables, functions, userdata go through tostring()
				L.GetGlobal("tostring")
				L.PushValue(i)
				if err := L.Call(1, 1); err != nil {
					parts = append(parts, "?")
					continue
				}
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}

		e.send(OutputRecord{
			Content:   strings.Join(parts, "\t") + "\n",
			Timestamp: time.Now(),
			Source:    SourceStdout,
		})
		return 0
	})
	L.SetGlobal("print")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', 14, 64)
}

var luaErrorPattern = regexp.MustCompile(`(?s)^.*?:(\d+): (.*)$`)

// parseLuaError extracts the line number from messages shaped like `chunk:12: message`.
func parseLuaError(errType, source, msg string) *LuaError {
	if msg == "" {
		msg = "unknown Lua error"
	}
	luaErr := &LuaError{Type: errType, Message: strings.TrimSpace(msg), Source: source}

	if m := luaErrorPattern.FindStringSubmatch(msg); m != nil {
		if line, err := strconv.Atoi(m[1]); err == nil {
			luaErr.Line = line
			luaErr.Message = strings.TrimSpace(m[2])
		}
	}
	return luaErr
}
