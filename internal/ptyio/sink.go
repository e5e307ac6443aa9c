package ptyio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/bridge"
)

// SinkOptions configures a PTY sink.
type SinkOptions struct {
	Options
	Format  string // bridge.FormatJSON (default) or bridge.FormatText
	Symlink string // optional stable path pointing at the slave device
}

// Sink is a bridge.Sink writing one envelope line per message to a PTY.
type Sink struct {
	pty    *PTY
	format string
	link   string
	logger *logrus.Logger
}

var _ bridge.Sink = (*Sink)(nil)

// OpenSink opens a PTY and, when opts.Symlink is set, links it to the slave.
// An existing symlink at that path is replaced; any other file is an error.
func OpenSink(opts SinkOptions) (*Sink, error) {
	switch opts.Format {
	case "":
		opts.Format = bridge.FormatJSON
	case bridge.FormatJSON, bridge.FormatText:
	default:
		return nil, fmt.Errorf("invalid output format %q: must be %s or %s", opts.Format, bridge.FormatJSON, bridge.FormatText)
	}

	p, err := Open(opts.Options)
	if err != nil {
		return nil, err
	}
	s := &Sink{pty: p, format: opts.Format, logger: p.logger}

	if opts.Symlink != "" {
		if err := replaceSymlink(p.TTYName(), opts.Symlink); err != nil {
			_ = p.Close()
			return nil, err
		}
		s.link = opts.Symlink
		s.logger.WithFields(logrus.Fields{
			"tty":  p.TTYName(),
			"link": opts.Symlink,
		}).Info("PTY symlink created")
	}
	return s, nil
}

func replaceSymlink(target, link string) error {
	info, err := os.Lstat(link)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to inspect %s: %w", link, err)
	case info.Mode()&os.ModeSymlink == 0:
		return fmt.Errorf("refusing to replace %s: not a symlink", link)
	default:
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to remove stale symlink %s: %w", link, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to link %s to %s: %w", link, target, err)
	}
	return nil
}

// TTYName returns the slave path consumers should open.
func (s *Sink) TTYName() string {
	return s.pty.TTYName()
}

// Symlink returns the link path, or "" when none was requested.
func (s *Sink) Symlink() string {
	return s.link
}

// Stats returns the underlying PTY counters.
func (s *Sink) Stats() Stats {
	return s.pty.Stats()
}

// Send queues one envelope line. A line that does not fit is reported with
// ErrBufferFull; its queued prefix is still delivered.
func (s *Sink) Send(receiverID, handler, payload string) error {
	line, err := bridge.FormatEnvelope(s.format, bridge.Envelope{Receiver: receiverID, Handler: handler, Payload: payload})
	if err != nil {
		return err
	}
	if _, err := s.pty.Write([]byte(line)); err != nil {
		return fmt.Errorf("pty %s: %w", s.pty.TTYName(), err)
	}
	return nil
}

// Close removes the symlink and closes the PTY.
func (s *Sink) Close() error {
	var errs []error
	if s.link != "" {
		if err := os.Remove(s.link); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove symlink %s: %w", s.link, err))
		}
	}
	if err := s.pty.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
