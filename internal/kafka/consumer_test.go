package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed map[int][]int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{pending: msgs, committed: make(map[int][]int64)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed[m.Partition] = append(r.committed[m.Partition], m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed[partition]...)
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "market.order.placed", Partition: partition, Offset: offset}
}

func run(t *testing.T, c *Consumer, h Handler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumerRetriesBeforeCommitting(t *testing.T) {
	r := newFakeReader(msg(0, 0), msg(1, 0), msg(0, 1), msg(1, 1), msg(0, 2))
	c := newConsumer(r, 2, quietLog())
	c.retryBase = time.Millisecond
	c.retryMax = 5 * time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	stop := run(t, c, func(ctx context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if m.Partition == 0 {
			calls[m.Offset]++
			if m.Offset == 1 && calls[m.Offset] < 3 {
				return errors.New("redis down")
			}
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.commits(0)) == 3 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []int64{0, 1, 2}, r.commits(0), "offsets commit in order")
	assert.Equal(t, []int64{0, 1}, r.commits(1))
	mu.Lock()
	assert.Equal(t, 3, calls[1])
	mu.Unlock()
	assert.True(t, r.closed)
}

func TestConsumerNeverCommitsPastAFailingMessage(t *testing.T) {
	r := newFakeReader(msg(0, 0), msg(0, 1), msg(0, 2), msg(1, 0))
	c := newConsumer(r, 2, quietLog())
	c.retryBase = time.Millisecond
	c.retryMax = 5 * time.Millisecond

	stop := run(t, c, func(ctx context.Context, m kafka.Message) error {
		if m.Partition == 0 && m.Offset == 1 {
			return errors.New("still failing")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.commits(1)) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Equal(t, []int64{0}, r.commits(0), "offset 2 must wait behind offset 1")
}

func TestConsumerSkipsPermanentFailures(t *testing.T) {
	r := newFakeReader(msg(0, 0), msg(0, 1))
	c := newConsumer(r, 1, quietLog())

	stop := run(t, c, func(ctx context.Context, m kafka.Message) error {
		if m.Offset == 0 {
			return backoff.Permanent(errors.New("unreadable"))
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.commits(0)) == 2 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, []int64{0, 1}, r.commits(0))
}
