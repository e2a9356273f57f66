package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestLocker_KeyNamespacing(t *testing.T) {
	l := &Locker{prefix: "pricing_model:mutate"}
	assert.Equal(t, "pricing_model:mutate:42", l.key("42"))

	bare := &Locker{}
	assert.Equal(t, "42", bare.key("42"))
}

func TestLocker_NilClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil, "x"))

	var l *Locker
	_, _, err := l.TryLock(context.Background(), "42", time.Second)
	assert.Error(t, err)

	// Releasing through a nil locker is a no-op, matching the fail-open
	// posture of the rest of the limiter.
	assert.NoError(t, l.Release(context.Background(), "42", "token"))
}

func TestLocker_TryLockValidatesInput(t *testing.T) {
	l := &Locker{client: &redis.Client{}}

	_, _, err := l.TryLock(context.Background(), "", time.Second)
	assert.Error(t, err)

	_, _, err = l.TryLock(context.Background(), "42", 0)
	assert.Error(t, err)
}

func TestLocker_ReleaseIgnoresBlanks(t *testing.T) {
	l := &Locker{client: &redis.Client{}}

	assert.NoError(t, l.Release(context.Background(), "", "token"))
	assert.NoError(t, l.Release(context.Background(), "42", ""))
}
