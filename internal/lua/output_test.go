package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/museb/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type OutputTestSuite struct {
	suite.Suite
}

func record(source, content string) OutputRecord {
	return OutputRecord{Content: content, Timestamp: time.Now(), Source: source}
}

func (s *OutputTestSuite) TestNewOutputCollectorValidation() {
	ch := make(chan OutputRecord)

	_, err := NewOutputCollector(nil, 10, nil)
	s.Error(err, "nil channel MUST be rejected")

	_, err = NewOutputCollector(ch, 0, nil)
	s.Error(err, "zero buffer MUST be rejected")

	_, err = NewOutputCollector(ch, MaxBufferSize+1, nil)
	s.Error(err, "oversized buffer MUST be rejected")

	c, err := NewOutputCollector(ch, 10, nil)
	s.Require().NoError(err)
	s.Equal(CollectorStateNotRunning, c.State())
}

func (s *OutputTestSuite) TestCollectsUntilChannelCloses() {
	// GOAL: Verify records are buffered in order and split by source on consumption
	//
	// TEST SCENARIO: stdout, stderr, stdout → close → plain text per source

	ch := make(chan OutputRecord, 4)
	c, err := NewOutputCollector(ch, 8, nil)
	s.Require().NoError(err)
	s.Require().NoError(c.Start())
	s.Error(c.Start(), "second Start MUST fail while running")

	ch <- record(SourceStdout, "a\n")
	ch <- record(SourceStderr, "oops\n")
	ch <- record(SourceStdout, "b\n")
	close(ch)
	<-c.Done()

	s.Equal(CollectorStateNotRunning, c.State())
	s.Equal(int64(3), c.Metrics().RecordsProcessed)

	out, err := ConsumeRecords(c, PlainTextConsumer(SourceStdout))
	s.Require().NoError(err)
	s.Equal("a\nb\n", out)

	empty, err := c.ConsumePlainText()
	s.Require().NoError(err)
	s.Empty(empty, "consumption MUST drain the buffer")
}

func (s *OutputTestSuite) TestOverwritesOldest() {
	ch := make(chan OutputRecord, 32)
	c, err := NewOutputCollector(ch, 4, nil)
	s.Require().NoError(err)
	s.Require().NoError(c.Start())

	for i := 1; i <= 20; i++ {
		ch <- record(SourceStdout, fmt.Sprintf("%d\n", i))
	}
	close(ch)
	<-c.Done()

	out, err := c.ConsumePlainText()
	s.Require().NoError(err)
	// capacity is rounded by the ring buffer, so only the tail is fixed
	s.True(strings.HasSuffix(out, "19\n20\n"), "the newest records MUST survive, got %q", out)
	s.False(strings.HasPrefix(out, "1\n"), "the oldest records MUST be overwritten")
	s.Equal(int64(20), c.Metrics().RecordsProcessed)
	s.Positive(c.Metrics().RecordsOverwritten)
}

func (s *OutputTestSuite) TestConsumerStopsEarly() {
	ch := make(chan OutputRecord, 4)
	c, err := NewOutputCollector(ch, 4, nil)
	s.Require().NoError(err)
	s.Require().NoError(c.Start())
	ch <- record(SourceStdout, "first\n")
	ch <- record(SourceStdout, "second\n")
	close(ch)
	<-c.Done()

	boom := errors.New("boom")
	_, err = ConsumeRecords(c, func(r *OutputRecord) (int, bool, error) {
		return 0, false, boom
	})
	s.ErrorIs(err, boom)

	rest, err := c.ConsumePlainText()
	s.Require().NoError(err)
	s.Equal("second\n", rest, "records after an early stop MUST stay buffered")
}

func (s *OutputTestSuite) TestStopIsIdempotent() {
	ch := make(chan OutputRecord)
	c, err := NewOutputCollector(ch, 4, nil)
	s.Require().NoError(err)

	s.NoError(c.Stop(), "stopping a stopped collector MUST be a no-op")
	s.Require().NoError(c.Start())
	s.NoError(c.Stop())
	s.NoError(c.Stop())
	s.Require().NoError(c.Start(), "collector MUST be restartable")
	s.NoError(c.Stop())
}

// syncBuffer guards bytes.Buffer for concurrent drainer writes and test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *OutputTestSuite) TestDrainerRoutesBySource() {
	// GOAL: Verify the drainer writes stdout and stderr records to their writers and flushes on Cancel
	//
	// TEST SCENARIO: three records → Cancel → Wait → both writers hold their records

	ch := make(chan OutputRecord, 4)
	stdout, stderr := &syncBuffer{}, &syncBuffer{}

	d := NewOutputDrainer(context.Background(), ch, testutils.QuietLogger(), stdout, stderr)
	ch <- record(SourceStdout, "hello\n")
	ch <- record(SourceStderr, "Lua runtime error\n")
	ch <- record(SourceStdout, "world\n")

	s.Eventually(func() bool { return stdout.String() == "hello\nworld\n" }, time.Second, time.Millisecond)
	d.Cancel()
	d.Cancel()
	d.Wait()

	s.Equal("Lua runtime error\n", stderr.String())
	s.Equal(DrainStats{Written: 3}, d.Stats())
}

// failingWriter rejects every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func (s *OutputTestSuite) TestDrainerCountsWriteFailures() {
	ch := make(chan OutputRecord, 4)

	d := NewOutputDrainer(context.Background(), ch, testutils.QuietLogger(), failingWriter{}, nil)
	ch <- record(SourceStdout, "lost\n")
	ch <- record(SourceStderr, "discarded\n")
	close(ch)
	d.Wait()

	s.Equal(DrainStats{Written: 1, Failed: 1}, d.Stats(), "a failed write MUST be counted and MUST NOT stop the drainer")
}

func (s *OutputTestSuite) TestDrainerStopsOnContext() {
	ch := make(chan OutputRecord, 4)
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}

	d := NewOutputDrainer(ctx, ch, testutils.QuietLogger(), out, nil)
	ch <- record(SourceStderr, "discarded\n")
	ch <- record(SourceStdout, "kept\n")
	cancel()
	d.Wait()

	s.Equal("kept\n", out.String(), "nil stderr MUST discard and buffered stdout MUST be flushed")
}

func TestOutputTestSuite(t *testing.T) {
	suite.Run(t, new(OutputTestSuite))
}
