package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/museb/internal/bridge"
	"github.com/srg/museb/internal/ptyio"
	"github.com/srg/museb/pkg/config"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream <device>",
	Short: "Stream headband events as JSON records",
	Long: `Scan for the named headband, connect, and print every bridge event as one
envelope line: {"receiver":"stream","handler":"on_data","payload":"..."}.

Payloads are the records scripts receive: device lists, connection
transitions, telemetry and artifacts. With --pty the lines go to a pseudo
terminal instead of stdout, so other programs can read them like a serial port.

Example:
  museb stream MuseS-7F21 --category EEG,BATTERY
  museb stream MuseS-7F21 --pty --symlink /tmp/muse`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

var (
	streamCategories []string
	streamDuration   time.Duration
	streamFormat     string
	streamPTY        bool
	streamSymlink    string
)

// Handler names used on the stream receiver.
const (
	streamReceiver        = "stream"
	handlerDeviceList     = "on_device_list"
	handlerConnection     = "on_connection"
	handlerData           = "on_data"
	handlerArtifact       = "on_artifact"
	streamShutdownTimeout = 2 * time.Second
)

func init() {
	streamCmd.Flags().StringSliceVarP(&streamCategories, "category", "c", nil, "Data categories to forward (default: all, see 'museb categories')")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 streams until Ctrl+C or disconnect)")
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", "", "Line format (json, text; default: output_format from config)")
	streamCmd.Flags().BoolVar(&streamPTY, "pty", false, "Write lines to a new PTY instead of stdout")
	streamCmd.Flags().StringVar(&streamSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/muse)")
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if streamFormat != "" {
		cfg.OutputFormat = streamFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if streamSymlink != "" && !streamPTY {
		return errors.New("--symlink requires --pty")
	}
	categories := streamCategories
	if len(categories) == 0 {
		categories = bridge.Categories()
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()
	name := args[0]

	sink, closeSink, err := openStreamSink(cfg, out, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeSink() }()

	manager, release, err := backendFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	ctx, cancel := commandContext(cmd.Context(), streamDuration, cmd.ErrOrStderr(), "stream")
	defer cancel()

	queue := bridge.NewQueuedSink(ctx, "stream", sink, cfg.QueueSize, logger)
	defer func() {
		if !queue.Close(streamShutdownTimeout) {
			logger.Warn("Stream queue did not drain before shutdown")
		}
		printQueueStats(cmd.ErrOrStderr(), queue.Stats())
	}()

	d, err := newDispatcher(cfg, manager, queue, logger)
	if err != nil {
		return err
	}
	d.RegisterDeviceListListener(streamReceiver, handlerDeviceList)
	d.RegisterConnectionListener(streamReceiver, handlerConnection)
	d.RegisterDataListener(streamReceiver, handlerData)
	d.RegisterArtifactListener(streamReceiver, handlerArtifact)
	for _, c := range categories {
		if err := d.ListenForDataPacket(c); err != nil {
			return err
		}
	}

	if err := d.StartScan(); err != nil {
		return err
	}
	if err := waitForDevice(ctx, d, name, cfg.ScanTimeout); err != nil {
		return err
	}
	if err := d.Connect(name); err != nil {
		return err
	}

	err = waitForSessionEnd(ctx, d)
	if dErr := d.Disconnect(); dErr != nil && !errors.Is(dErr, bridge.ErrNotConnected) {
		logger.WithError(dErr).Debug("Disconnect on shutdown")
	}
	return err
}

// openStreamSink returns the stdout writer sink or a PTY sink.
func openStreamSink(cfg *config.Config, out io.Writer, logger *logrus.Logger) (bridge.Sink, func() error, error) {
	if !streamPTY {
		s, err := bridge.NewWriterSink(out, cfg.OutputFormat)
		return s, func() error { return nil }, err
	}

	s, err := ptyio.OpenSink(ptyio.SinkOptions{
		Options: ptyio.Options{Logger: logger},
		Format:  cfg.OutputFormat,
		Symlink: streamSymlink,
	})
	if err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(out, "Streaming to %s\n", s.TTYName())
	if link := s.Symlink(); link != "" {
		fmt.Fprintf(out, "Symlink: %s -> %s\n", link, s.TTYName())
	}
	return s, s.Close, nil
}

// waitForDevice polls the catalog until name is resolvable.
func waitForDevice(ctx context.Context, d *bridge.Dispatcher, name string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		if _, err := d.Catalog().Resolve(name); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrScanTimeout, name)
		case <-tick.C:
		}
	}
}

// waitForSessionEnd blocks until ctx ends or the session disconnects.
// A duration limit is a normal end; a dropped link is reported.
func waitForSessionEnd(ctx context.Context, d *bridge.Dispatcher) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case <-tick.C:
			if d.State() == bridge.Disconnected {
				return ErrConnectionLost
			}
		}
	}
}

func printQueueStats(w io.Writer, s bridge.QueueStats) {
	fmt.Fprintf(w, "queued=%d delivered=%d dropped=%d failed=%d\n", s.Queued, s.Delivered, s.Dropped, s.Failed)
}
