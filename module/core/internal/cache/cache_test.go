package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database/memory"
)

func TestKey_RoundsToFiveDecimals(t *testing.T) {
	assert.Equal(t, "B1:12.91234:74.83567", Key("B1", 12.912341, 74.835672))
	assert.Equal(t, Key("B1", 12.9123401, 74.8356702), Key("B1", 12.9123399, 74.8356698))
	assert.NotEqual(t, Key("B1", 12.91234, 74.83567), Key("B2", 12.91234, 74.83567))
}

func TestMemory_RoundTripAndExpiry(t *testing.T) {
	clk := clock.NewMock(time.Unix(1715003456, 0))
	c := NewMemory(clk)
	ctx := context.Background()

	c.Set(ctx, "B1", 12.91234, 74.83567, []byte(`{"busId":"B1"}`), 10*time.Second)

	clk.Advance(9 * time.Second)
	got, ok := c.Get(ctx, "B1", 12.912341, 74.835669)
	require.True(t, ok)
	assert.Equal(t, `{"busId":"B1"}`, string(got))

	clk.Advance(time.Second)
	_, ok = c.Get(ctx, "B1", 12.91234, 74.83567)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be removed on read")
}

func TestMemory_Sweep(t *testing.T) {
	clk := clock.NewMock(time.Unix(1715003456, 0))
	c := NewMemory(clk)
	ctx := context.Background()

	c.Set(ctx, "B1", 1, 1, []byte("a"), 5*time.Second)
	c.Set(ctx, "B2", 1, 1, []byte("b"), time.Minute)

	clk.Advance(30 * time.Second)
	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_StoresCopy(t *testing.T) {
	c := NewMemory(clock.NewMock(time.Unix(1715003456, 0)))
	buf := []byte("abc")
	c.Set(context.Background(), "B1", 1, 1, buf, time.Minute)
	buf[0] = 'x'

	got, ok := c.Get(context.Background(), "B1", 1, 1)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestDurable_RoundTripAndSelfHeal(t *testing.T) {
	clk := clock.NewMock(time.Unix(1715003456, 0))
	repo := memory.NewETACacheRepo()
	d := NewDurable(repo, clk, nil)
	ctx := context.Background()

	d.Set(ctx, "B1", 12.92, 74.82, []byte("payload"), 10*time.Second)
	got, ok := d.Get(ctx, "B1", 12.92, 74.82)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))

	clk.Advance(10 * time.Second)
	_, ok = d.Get(ctx, "B1", 12.92, 74.82)
	assert.False(t, ok)

	_, _, err := repo.Get(ctx, Key("B1", 12.92, 74.82))
	assert.Error(t, err, "expired row should have been deleted")
}

func TestFailover_FallsBackAndRecovers(t *testing.T) {
	clk := clock.NewMock(time.Unix(1715003456, 0))
	repo := memory.NewETACacheRepo()
	mem := NewMemory(clk)
	f := NewFailover(NewDurable(repo, clk, nil), mem, nil, nil)
	ctx := context.Background()

	f.Set(ctx, "B1", 1, 1, []byte("durable"), time.Minute)
	assert.Equal(t, 0, mem.Len())

	repo.SetPingErr(errors.New("connection refused"))
	_, ok := f.Get(ctx, "B1", 1, 1)
	assert.False(t, ok)
	assert.False(t, f.Healthy())

	f.Set(ctx, "B2", 1, 1, []byte("memory"), time.Minute)
	got, ok := f.Get(ctx, "B2", 1, 1)
	require.True(t, ok)
	assert.Equal(t, "memory", string(got))

	// still down: sweep keeps the fallback
	_, err := f.Sweep(ctx)
	require.NoError(t, err)
	assert.False(t, f.Healthy())

	repo.SetPingErr(nil)
	_, err = f.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, f.Healthy())

	got, ok = f.Get(ctx, "B1", 1, 1)
	require.True(t, ok)
	assert.Equal(t, "durable", string(got))
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := NewMemory(clock.NewMock(time.Unix(1715003456, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, c, time.Millisecond, nil)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
