package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/museb"
	"github.com/srg/museb/internal/bridge"
	"github.com/srg/museb/internal/lua"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [script.lua]",
	Short: "Run a Lua app against the bridge",
	Long: `Run a Lua script that drives the bridge through the global 'muse' table
and receives events as receiver:handler(payload) calls on global tables.

Without a script the built-in sample app runs: it scans, connects to the
first headband (or arg.device) and prints every event it receives.

API (all functions live in 'muse'):
  register_device_list_listener(receiver, handler)  -> token
  register_connection_listener(receiver, handler)   -> token
  register_data_listener(receiver, handler)         -> token
  register_artifact_listener(receiver, handler)     -> token
  unsubscribe(token)                                -> bool
  listen_for_data_packet(category)                  -> true | nil, err
  start_listening() / stop_listening()              -> true | nil, err
  connect(name) / disconnect()                      -> true | nil, err
  version(), state(), categories(), decode(payload)

Example:
  museb run
  museb run app.lua --arg device=MuseS-7F21 --arg max_packets=50`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScript,
}

var (
	runDuration time.Duration
	runArgs     map[string]string
)

func init() {
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	runCmd.Flags().StringToStringVar(&runArgs, "arg", nil, "Script argument available as arg.<key> (repeatable)")
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	script, name := museb.SampleAppLuaScript, "sample_app.lua"
	if len(args) == 1 {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		script, name = string(content), args[0]
	}

	cmd.SilenceUsage = true

	manager, release, err := backendFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	ctx, cancel := commandContext(cmd.Context(), runDuration, cmd.ErrOrStderr(), "script")
	defer cancel()

	engine := lua.NewEngine(logger, lua.DefaultOutputCapacity)
	defer engine.Close()
	host := lua.NewHost(engine, logger)

	// the host takes the engine lock, so SDK callbacks must not reach it synchronously
	queue := bridge.NewQueuedSink(ctx, "lua", host, cfg.QueueSize, logger)
	defer queue.Close(streamShutdownTimeout)

	d, err := newDispatcher(cfg, manager, queue, logger)
	if err != nil {
		return err
	}
	host.Bind(d)

	err = host.Run(ctx, script, name, runArgs, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if dErr := d.Disconnect(); dErr != nil && !errors.Is(dErr, bridge.ErrNotConnected) {
		logger.WithError(dErr).Debug("Disconnect on shutdown")
	}
	return err
}
