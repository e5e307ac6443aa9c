package lua

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/groutine"
)

// flushWindow bounds how long a stopping drainer keeps waiting for late script output.
const flushWindow = 100 * time.Millisecond

// DrainStats counts records handled by an OutputDrainer.
type DrainStats struct {
	Written int64
	Failed  int64
}

// OutputDrainer forwards script print output to the host's stdout and stderr
// while a script runs, so handler output shows up as events arrive.
type OutputDrainer struct {
	records <-chan OutputRecord
	stdout  io.Writer
	stderr  io.Writer
	logger  *logrus.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
}

// NewOutputDrainer starts forwarding records until the channel closes, Cancel
// is called or ctx ends. Nil writers discard their records.
func NewOutputDrainer(ctx context.Context, records <-chan OutputRecord, logger *logrus.Logger, stdout, stderr io.Writer) *OutputDrainer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	d := &OutputDrainer{
		records: records,
		stdout:  stdout,
		stderr:  stderr,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	groutine.GoTracked(ctx, &d.wg, "lua-output-drainer", d.run)
	return d
}

// Cancel asks the drainer to flush what is pending and exit. Safe to call more than once.
func (d *OutputDrainer) Cancel() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Wait blocks until the drainer has exited.
func (d *OutputDrainer) Wait() {
	d.wg.Wait()
}

// Stats returns the record counters.
func (d *OutputDrainer) Stats() DrainStats {
	return DrainStats{Written: d.written.Load(), Failed: d.failed.Load()}
}

func (d *OutputDrainer) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("Lua output drainer panicked")
		}
	}()

	for {
		select {
		case rec, ok := <-d.records:
			if !ok {
				return
			}
			d.write(rec)
		case <-d.stop:
			d.flush("cancel")
			return
		case <-ctx.Done():
			d.flush("context")
			return
		}
	}
}

// flush forwards records still arriving within flushWindow.
func (d *OutputDrainer) flush(reason string) {
	timer := time.NewTimer(flushWindow)
	defer timer.Stop()

	before := d.written.Load() + d.failed.Load()
	defer func() {
		d.logger.WithFields(logrus.Fields{
			"reason":  reason,
			"flushed": d.written.Load() + d.failed.Load() - before,
		}).Debug("Lua output flushed")
	}()

	for {
		select {
		case rec, ok := <-d.records:
			if !ok {
				return
			}
			d.write(rec)
		case <-timer.C:
			return
		}
	}
}

func (d *OutputDrainer) write(rec OutputRecord) {
	w := d.stdout
	if rec.Source == SourceStderr {
		w = d.stderr
	}
	if _, err := io.WriteString(w, rec.Content); err != nil {
		d.failed.Add(1)
		d.logger.WithError(err).WithField("source", rec.Source).Warn("Failed to write Lua output")
		return
	}
	d.written.Add(1)
}
