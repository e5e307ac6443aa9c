package lua

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/museb/internal/groutine"
)

// CollectorMetrics are lock-free OutputCollector counters.
type CollectorMetrics struct {
	RecordsProcessed   int64
	ErrorsOccurred     int64
	RecordsOverwritten int64
}

// Collector lifecycle states.
const (
	CollectorStateNotRunning uint32 = iota
	CollectorStateRunning
	CollectorStateStopping

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

// OutputCollector moves records from an engine output channel into an
// overlapping ring buffer so tests and batch callers can read script output
// after the fact. The oldest records are overwritten when the buffer is full.
type OutputCollector struct {
	outputChan <-chan OutputRecord
	buffer     mpmc.RichOverlappedRingBuffer[OutputRecord]
	stop       chan struct{}
	done       chan struct{}
	onError    func(error)
	metrics    CollectorMetrics
	state      uint32
}

// NewOutputCollector creates a stopped collector. onError defaults to panicking.
func NewOutputCollector(ch <-chan OutputRecord, bufferSize uint32, onError func(error)) (*OutputCollector, error) {
	if ch == nil {
		return nil, fmt.Errorf("output channel cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("OutputCollector: %v", err))
		}
	}

	return &OutputCollector{
		outputChan: ch,
		buffer:     mpmc.NewOverlappedRingBuffer[OutputRecord](bufferSize),
		onError:    onError,
	}, nil
}

// Start launches the collecting goroutine.
func (c *OutputCollector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, CollectorStateNotRunning, CollectorStateRunning) {
		return fmt.Errorf("collector is not stopped (state %d)", atomic.LoadUint32(&c.state))
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done

	groutine.Go(context.Background(), "lua-output-collector", func(_ context.Context) {
		defer func() {
			close(done)
			atomic.StoreUint32(&c.state, CollectorStateNotRunning)
		}()
		for {
			select {
			case <-stop:
				return
			case rec, ok := <-c.outputChan:
				if !ok {
					return
				}
				overwrites, err := c.buffer.EnqueueM(rec)
				if err != nil {
					atomic.AddInt64(&c.metrics.ErrorsOccurred, 1)
					c.onError(fmt.Errorf("unexpected buffer.Enqueue error: %w", err))
					return
				}
				atomic.AddInt64(&c.metrics.RecordsOverwritten, int64(overwrites))
				atomic.AddInt64(&c.metrics.RecordsProcessed, 1)
			}
		}
	})
	return nil
}

// Stop ends collection. Records already buffered stay readable.
func (c *OutputCollector) Stop() error {
	if atomic.CompareAndSwapUint32(&c.state, CollectorStateRunning, CollectorStateStopping) {
		close(c.stop)
	} else if atomic.LoadUint32(&c.state) == CollectorStateNotRunning {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		<-c.done
		return fmt.Errorf("stop completed but exceeded 5s timeout")
	}
}

// Done is closed when the collecting goroutine of the current run exits.
func (c *OutputCollector) Done() <-chan struct{} {
	return c.done
}

// Metrics returns a snapshot of the counters.
func (c *OutputCollector) Metrics() CollectorMetrics {
	return CollectorMetrics{
		RecordsProcessed:   atomic.LoadInt64(&c.metrics.RecordsProcessed),
		ErrorsOccurred:     atomic.LoadInt64(&c.metrics.ErrorsOccurred),
		RecordsOverwritten: atomic.LoadInt64(&c.metrics.RecordsOverwritten),
	}
}

// State returns the lifecycle state.
func (c *OutputCollector) State() uint32 {
	return atomic.LoadUint32(&c.state)
}

// ConsumerFunc receives buffered records one at a time, then nil once the
// buffer is empty. Returning done=true stops early with result.
type ConsumerFunc[T any] func(record *OutputRecord) (result T, done bool, err error)

// ConsumeRecords drains the buffer into consumer.
func ConsumeRecords[T any](c *OutputCollector, consumer ConsumerFunc[T]) (T, error) {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("buffer dequeue error: %w", err)
		}
		result, done, err := consumer(&rec)
		if err != nil || done {
			return result, err
		}
	}
	result, _, err := consumer(nil)
	return result, err
}

// PlainTextConsumer concatenates record contents, optionally only from one source.
func PlainTextConsumer(source string) ConsumerFunc[string] {
	var sb strings.Builder
	return func(record *OutputRecord) (string, bool, error) {
		if record == nil {
			return sb.String(), true, nil
		}
		if source == "" || record.Source == source {
			sb.WriteString(record.Content)
		}
		return "", false, nil
	}
}

// ConsumePlainText drains the buffer and returns all content as one string.
func (c *OutputCollector) ConsumePlainText() (string, error) {
	return ConsumeRecords(c, PlainTextConsumer(""))
}
