// Package ptyio exposes bridge output on a pseudo terminal so external tools
// (serial monitors, `cat /dev/pts/N`, other language runtimes) can consume it.
//
// Writes never block the caller: bytes go into a ring buffer that a poll loop
// flushes to the PTY master. When nobody reads the slave the ring fills and
// further bytes are dropped and counted. Bytes a consumer writes into the slave
// are buffered the same way and available through Read.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/museb/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Options configures a PTY. Zero fields take the defaults from the tags.
type Options struct {
	ReadCap     int           `default:"4096"`  // bytes buffered from the slave
	WriteCap    int           `default:"65536"` // bytes buffered towards the slave
	PollTimeout time.Duration `default:"50ms"`  // upper bound on shutdown latency
	Logger      *logrus.Logger
	OnError     func(err error) // called at most once per loop on a fatal I/O error
}

// Stats reports buffer usage and byte counters.
type Stats struct {
	WriteQueueLen int
	WriteQueueCap int
	ReadQueueLen  int
	ReadQueueCap  int

	DroppedWriteBytes uint64
	DroppedReadBytes  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}

// ErrBufferFull is returned by Write when part of the data could not be queued.
var ErrBufferFull = errors.New("pty write buffer full")

// PTY is the master side of a pseudo terminal pair backed by ring buffers.
type PTY struct {
	logger      *logrus.Logger
	onError     func(err error)
	pollTimeout int // milliseconds, as unix.Poll wants

	master  *os.File
	slave   *os.File // kept open so the master never reads EIO while no consumer is attached
	ttyName string

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	errorOnce sync.Once

	droppedWrite atomic.Uint64
	droppedRead  atomic.Uint64
	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
}

// Open creates a raw-mode PTY pair and starts the I/O loops.
func Open(opts Options) (*PTY, error) {
	defaults.SetDefaults(&opts)
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		logger:      logger,
		onError:     opts.OnError,
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		writeBuf:    ringbuffer.New(opts.WriteCap),
		readBuf:     ringbuffer.New(opts.ReadCap),
		cancel:      cancel,
	}
	if p.pollTimeout <= 0 {
		p.pollTimeout = 1
	}

	groutine.GoTracked(ctx, &p.wg, "pty-write-loop", p.writeLoop)
	groutine.GoTracked(ctx, &p.wg, "pty-read-loop", p.readLoop)

	logger.WithFields(logrus.Fields{
		"tty":       p.ttyName,
		"write_cap": opts.WriteCap,
		"read_cap":  opts.ReadCap,
	}).Info("PTY opened")
	return p, nil
}

func openRaw() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, cause error) (*os.File, *os.File, error) {
		name := slave.Name()
		errs := []error{fmt.Errorf("failed to set PTY %s to %s mode: %w", name, step, cause)}
		if closeErr := master.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("close master: %w", closeErr))
		}
		if closeErr := slave.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("close slave: %w", closeErr))
		}
		return nil, nil, errors.Join(errs...)
	}

	// no echo and no newline translation: consumers see envelope lines byte for byte
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("raw", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("nonblocking", err)
	}
	return master, slave, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/3.
func (p *PTY) TTYName() string {
	return p.ttyName
}

// Write queues data for the slave. It never blocks. When the ring is full the
// tail of data is dropped and ErrBufferFull returned along with the queued count.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n < len(data) {
		dropped := len(data) - n
		p.droppedWrite.Add(uint64(dropped))
		p.logger.WithFields(logrus.Fields{
			"tty":     p.ttyName,
			"dropped": dropped,
			"queued":  n,
		}).Warn("PTY write buffer overflow")
		return n, ErrBufferFull
	}
	return n, nil
}

// Read returns bytes a consumer wrote into the slave. It never blocks and
// returns syscall.EAGAIN when nothing is buffered.
func (p *PTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// Stats returns a snapshot of the buffers and counters.
func (p *PTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		WriteQueueCap:     p.writeBuf.Capacity(),
		ReadQueueLen:      p.readBuf.Length(),
		ReadQueueCap:      p.readBuf.Capacity(),
		DroppedWriteBytes: p.droppedWrite.Load(),
		DroppedReadBytes:  p.droppedRead.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
	}
}

// Close stops the loops and closes both ends. Safe to call more than once.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	// loops use the raw descriptors, so they must be gone before the files close
	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		p.wg.Wait()
		close(done)
	})

	timeout := max(5*time.Second, 3*time.Duration(p.pollTimeout)*time.Millisecond)
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.WithFields(logrus.Fields{
			"tty":     p.ttyName,
			"timeout": timeout,
		}).Error("PTY loops did not exit in time")
	}

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close slave: %w", err))
	}

	p.logger.WithField("tty", p.ttyName).Info("PTY closed")
	return errors.Join(errs...)
}

func (p *PTY) fatal(loop string, err error) {
	p.logger.WithFields(logrus.Fields{
		"loop":  loop,
		"error": err,
	}).Warn("PTY loop exiting")
	if p.onError != nil {
		p.errorOnce.Do(func() {
			p.onError(fmt.Errorf("%s: %w", loop, err))
		})
	}
}

func (p *PTY) recoverLoop(loop string) {
	if r := recover(); r != nil {
		p.logger.WithFields(logrus.Fields{
			"loop":  loop,
			"panic": r,
		}).Error("PTY loop panicked")
	}
}

// writeLoop drains writeBuf into the master.
func (p *PTY) writeLoop(ctx context.Context) {
	defer p.recoverLoop("write")

	fd := int(p.master.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		if p.writeBuf.IsEmpty() {
			// nothing queued
			time.Sleep(time.Duration(p.pollTimeout) * time.Millisecond / 5)
			continue
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("PTY write ring read failed")
			continue
		}

		for offset := 0; offset < n && ctx.Err() == nil; {
			written, err := unix.Write(fd, buf[offset:n])
			if written > 0 {
				offset += written
				p.writeBytes.Add(uint64(written))
			}
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				// slave side is full: nobody is reading
				if _, pollErr := unix.Poll(pollFd, p.pollTimeout); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
					p.logger.WithError(pollErr).Warn("PTY write poll failed")
				}
			case errors.Is(err, syscall.EBADF):
				return
			default:
				p.fatal("write", err)
				return
			}
		}
	}
}

// readLoop moves bytes the consumer typed into readBuf.
func (p *PTY) readLoop(ctx context.Context) {
	defer p.recoverLoop("read")

	fd := int(p.master.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		ready, err := unix.Poll(pollFd, p.pollTimeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := unix.Read(fd, buf)
		if n > 0 {
			queued, _ := p.readBuf.Write(buf[:n])
			if queued < n {
				p.droppedRead.Add(uint64(n - queued))
			}
			p.readBytes.Add(uint64(queued))
		}

		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, syscall.EIO):
			return
		default:
			p.fatal("read", err)
			return
		}
	}
}
