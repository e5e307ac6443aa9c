package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/museb/internal/bridge"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Muse headbands",
	Long: `Scan for headbands and print the discovered devices.

The list is collected through the bridge's device-list events, so the names
printed are exactly the names 'stream' and scripts can connect to. With
--watch every change of the list is printed as it happens.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanWatch    bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from config, 0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print every device list change")
}

type scannedDevice struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		duration = scanDuration
	}

	manager, release, err := backendFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	updates := make(chan string, 64)
	d, err := newDispatcher(cfg, manager, bridge.SinkFunc(func(_, _, payload string) error {
		select {
		case updates <- payload:
		default:
			logger.Debug("Device list update dropped: printer is behind")
		}
		return nil
	}), logger)
	if err != nil {
		return err
	}
	d.RegisterDeviceListListener("scan", "on_device_list")

	out := cmd.OutOrStdout()
	ctx, cancel := commandContext(cmd.Context(), duration, out, "scan")
	defer cancel()

	var progress *ProgressPrinter
	if !scanWatch && scanFormat == "table" && isTerminal(out) {
		progress = NewCountdownProgressPrinter(out, "Scanning for headbands", "scanning", duration)
		progress.Start()
		defer progress.Stop()
	}

	start := time.Now()
	if err := d.StartScan(); err != nil {
		return err
	}

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case names := <-updates:
			if scanWatch {
				fmt.Fprintf(out, "[%6.1fs] %s\n", time.Since(start).Seconds(), names)
			}
			if progress != nil {
				progress.SetPhase(fmt.Sprintf("%d found", len(d.Catalog().Names())))
			}
		}
	}
	if progress != nil {
		progress.Stop()
	}

	devices := make([]scannedDevice, 0)
	for _, name := range d.Catalog().Names() {
		if h, err := d.Catalog().Resolve(name); err == nil {
			devices = append(devices, scannedDevice{Name: name, ID: h.ID()})
		}
	}
	if err := d.StopScan(); err != nil {
		logger.WithError(err).Warn("Failed to stop scanning")
	}

	if scanFormat == "json" {
		return printDevicesJSON(out, devices)
	}
	return printDevicesTable(out, devices)
}

func printDevicesJSON(w io.Writer, devices []scannedDevice) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

func printDevicesTable(w io.Writer, devices []scannedDevice) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No headbands found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID")
	for _, dev := range devices {
		fmt.Fprintf(tw, "%s\t%s\n", dev.Name, dev.ID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d headband(s) found.\n", len(devices))
	return err
}
