package resource

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilController(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	require.NoError(t, c.AcquireBackground(ctx))
	c.ReleaseBackground()

	n, err := c.WaitMemory(ctx, 1<<40)
	require.NoError(t, err)
	assert.Zero(t, n)
	c.ReleaseMemory(n)
	assert.Zero(t, c.MemoryUsage())

	var buf bytes.Buffer
	_, err = NewRateLimitedWriter(ctx, &buf, c).Write([]byte("reclaim"))
	require.NoError(t, err)
	assert.Equal(t, "reclaim", buf.String())
}

func TestWaitMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	ctx := context.Background()

	n, err := c.WaitMemory(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), n)
	assert.Equal(t, int64(60), c.MemoryUsage())

	t.Run("zero size", func(t *testing.T) {
		n, err := c.WaitMemory(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("blocks until released", func(t *testing.T) {
		done := make(chan int64)
		go func() {
			got, err := c.WaitMemory(ctx, 50)
			assert.NoError(t, err)
			done <- got
		}()

		select {
		case <-done:
			t.Fatal("reservation should wait for the budget")
		case <-time.After(20 * time.Millisecond):
		}

		c.ReleaseMemory(n)
		got := <-done
		assert.Equal(t, int64(50), got)
		c.ReleaseMemory(got)
		assert.Zero(t, c.MemoryUsage())
	})
}

func TestWaitMemory_ClampsOversizedItem(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 10})

	n, err := c.WaitMemory(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.WaitMemory(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.ReleaseMemory(n)
	assert.Zero(t, c.MemoryUsage())
}

func TestWaitMemory_ArrivalOrder(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	ctx := context.Background()

	held, err := c.WaitMemory(ctx, 60)
	require.NoError(t, err)

	large := make(chan int64)
	go func() {
		got, err := c.WaitMemory(ctx, 100)
		assert.NoError(t, err)
		large <- got
	}()
	time.Sleep(10 * time.Millisecond)

	// 10 bytes would fit, but the large item queued first.
	small := make(chan int64)
	go func() {
		got, err := c.WaitMemory(ctx, 10)
		assert.NoError(t, err)
		small <- got
	}()
	select {
	case <-small:
		t.Fatal("small reservation overtook the queued large one")
	case <-time.After(20 * time.Millisecond):
	}

	c.ReleaseMemory(held)
	got := <-large
	assert.Equal(t, int64(100), got)
	c.ReleaseMemory(got)
	got = <-small
	assert.Equal(t, int64(10), got)
	c.ReleaseMemory(got)
	assert.Zero(t, c.MemoryUsage())
}

func TestWaitMemory_Unlimited(t *testing.T) {
	c := NewController(Config{})
	n, err := c.WaitMemory(context.Background(), 1<<30)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), n)
	assert.Equal(t, int64(1<<30), c.MemoryUsage())
	c.ReleaseMemory(n)
	assert.Zero(t, c.MemoryUsage())
}

func TestBackgroundSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})
	ctx := context.Background()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, c.AcquireBackground(ctx)) {
				return
			}
			defer c.ReleaseBackground()
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBackgroundSlots_DefaultsToOne(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.AcquireBackground(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.AcquireBackground(ctx), context.Canceled)

	c.ReleaseBackground()
	require.NoError(t, c.AcquireBackground(context.Background()))
	c.ReleaseBackground()
}

func TestRateLimitedWriter_Chunks(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, c)

	data := bytes.Repeat([]byte{0xAB}, 3*maxIOChunk+7)
	n, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf.Bytes())
}

func TestRateLimitedWriter_Canceled(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	n, err := NewRateLimitedWriter(ctx, &buf, c).Write([]byte("map"))
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, buf.Len())
}

func TestRateLimitedWriter_Seek(t *testing.T) {
	ctx := context.Background()

	_, err := NewRateLimitedWriter(ctx, &bytes.Buffer{}, nil).Seek(0, 0)
	assert.ErrorIs(t, err, ErrNotSeekable)

	f, err := os.Create(filepath.Join(t.TempDir(), "reclaim"))
	require.NoError(t, err)
	defer f.Close()

	w := NewRateLimitedWriter(ctx, f, NewController(Config{}))
	_, err = w.Write([]byte("header"))
	require.NoError(t, err)
	off, err := w.Seek(0, 0)
	require.NoError(t, err)
	assert.Zero(t, off)
}
