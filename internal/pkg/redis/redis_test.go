package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/assert/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := Connect("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	v, err := c.Get(ctx, Key("missing"))
	assert.Equal(t, err, nil)
	assert.Equal(t, v, "")

	assert.Equal(t, c.Set(ctx, Key("k"), "v", time.Minute), nil)
	v, _ = c.Get(ctx, Key("k"))
	assert.Equal(t, v, "v")

	ok, _ := c.Exists(ctx, "sc:k")
	assert.Equal(t, ok, true)
}

func TestIncrWindow(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.IncrWindow(ctx, "sc:rl", time.Second)
		assert.Equal(t, err, nil)
		assert.Equal(t, n, i)
	}
	mr.FastForward(2 * time.Second)
	n, _ := c.IncrWindow(ctx, "sc:rl", time.Second)
	assert.Equal(t, n, int64(1))
}

func TestConnectInvalidURL(t *testing.T) {
	_, err := Connect("://nope")
	assert.NotEqual(t, err, nil)
}
