package lua

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// SetArgs installs args as the global `arg` table, replacing any previous one.
func (e *Engine) SetArgs(args map[string]string) error {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return e.DoWithState(func(L *lua.State) error {
		L.CreateTable(0, len(keys))
		for _, k := range keys {
			L.PushString(args[k])
			L.SetField(-2, k)
		}
		L.SetGlobal("arg")
		return nil
	})
}

// Run executes script with args and keeps the host serving bridge callbacks
// until ctx ends. Script output is copied to stdout and stderr while it runs.
// A failing script returns immediately, after its error output was flushed.
func (h *Host) Run(ctx context.Context, script, name string, args map[string]string, stdout, stderr io.Writer) error {
	drainer := NewOutputDrainer(ctx, h.engine.OutputChannel(), h.logger, stdout, stderr)
	defer func() {
		drainer.Cancel()
		drainer.Wait()
		st := drainer.Stats()
		h.logger.WithFields(logrus.Fields{"written": st.Written, "failed": st.Failed}).Debug("Lua output drained")
	}()

	if err := h.engine.SetArgs(args); err != nil {
		return err
	}

	h.logger.WithField("script_size", len(script)).Debug("Starting Lua script execution")
	if err := h.engine.Execute(script, name); err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}

	<-ctx.Done()
	h.logger.WithField("reason", context.Cause(ctx)).Debug("Lua host stopping")
	return nil
}
