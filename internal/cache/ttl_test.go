package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, time.Minute)

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLCache_Expiry(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("token", "session", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("token")
	assert.False(t, ok)
}

func TestTTLCache_NonPositiveTTLIgnored(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, 0)
	c.Set("b", 2, -time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestTTLCache_Delete(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, time.Minute)
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}
