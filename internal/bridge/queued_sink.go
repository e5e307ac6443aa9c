package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/museb/internal/groutine"
	"github.com/srg/museb/internal/ringchan"
)

// DefaultQueueSize is the per-sink queue capacity used when none is configured.
const DefaultQueueSize = 256

// QueueStats are QueuedSink counters.
type QueueStats struct {
	Queued    int64 // accepted by Send
	Delivered int64 // handed to the wrapped sink without error
	Dropped   int64 // discarded because the queue was full
	Failed    int64 // rejected by the wrapped sink
	Pending   int   // currently waiting in the queue
}

type queuedMessage struct {
	receiverID string
	handler    string
	payload    string
}

// QueuedSink decouples producers from a slow Sink. Send enqueues and returns
// immediately; one goroutine delivers in order. When the queue is full the
// oldest message is dropped. Errors from the wrapped sink are logged.
type QueuedSink struct {
	next   Sink
	queue  *ringchan.RingChannel[queuedMessage]
	logger *logrus.Logger
	name   string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// ErrSinkClosed is returned by Send after Close.
var ErrSinkClosed = errors.New("sink closed")

// NewQueuedSink starts the delivery goroutine. Close must be called to stop it.
func NewQueuedSink(ctx context.Context, name string, next Sink, size int, logger *logrus.Logger) *QueuedSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &QueuedSink{
		next:   next,
		queue:  ringchan.New[queuedMessage](size),
		logger: logger,
		name:   name,
		done:   make(chan struct{}),
	}

	groutine.Go(ctx, "queued-sink-"+name, func(ctx context.Context) {
		defer close(s.done)
		s.run()
	})
	return s
}

// Send enqueues the message. It returns nil even when an older message had to be dropped.
func (s *QueuedSink) Send(receiverID, handler, payload string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	if dropped := s.queue.Send(queuedMessage{receiverID, handler, payload}); dropped {
		s.logger.WithField("sink", s.name).Warn("Sink queue full, dropped oldest message")
	}
	return nil
}

func (s *QueuedSink) run() {
	for {
		msg, ok := s.queue.Receive()
		if !ok {
			return
		}
		if err := s.deliver(msg); err != nil {
			s.queue.MarkError()
			s.logger.WithFields(logrus.Fields{
				"sink":     s.name,
				"receiver": msg.receiverID,
				"handler":  msg.handler,
				"error":    err,
			}).Warn("Queued delivery failed")
		}
	}
}

func (s *QueuedSink) deliver(msg queuedMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.next.Send(msg.receiverID, msg.handler, msg.payload)
}

// Close stops accepting messages, delivers what is queued and waits up to timeout for the
// delivery goroutine. It reports whether the queue drained in time.
func (s *QueuedSink) Close(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.queue.Close()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		s.logger.WithFields(logrus.Fields{
			"sink":    s.name,
			"pending": s.queue.Len(),
		}).Warn("Sink did not drain before timeout")
		return false
	}
}

// Stats returns queue counters.
func (s *QueuedSink) Stats() QueueStats {
	m := s.queue.Metrics()
	return QueueStats{
		Queued:    m.Written,
		Delivered: m.Processed - m.Errors,
		Dropped:   m.Overwritten,
		Failed:    m.Errors,
		Pending:   s.queue.Len(),
	}
}
