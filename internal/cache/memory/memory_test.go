package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestCacheExpires(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(clock)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	val, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), val)

	clock.now = clock.now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "a")
	require.False(t, ok)

	_, ok, _ = c.Get(ctx, "b")
	require.True(t, ok)
}
