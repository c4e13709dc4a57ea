package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ShuttleSignup/pkg/breaker"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := breaker.New("test", 2, time.Minute)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, breaker.StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, breaker.StateOpen, cb.State())

	called := false
	err := cb.Call(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.False(t, called)
}

func TestHalfOpenRecovers(t *testing.T) {
	now := time.Now()
	cb := breaker.New("test", 1, time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	assert.Equal(t, breaker.StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := breaker.New("test", 1, time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	now = now.Add(2 * time.Second)
	_ = cb.Call(ctx, fail)
	assert.Equal(t, breaker.StateOpen, cb.State())
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	cb := breaker.New("test", 1, time.Minute)
	ctx := context.Background()
	isBoom := func(err error) bool { return errors.Is(err, errBoom) }

	for range 5 {
		assert.ErrorIs(t, cb.Call(ctx, fail, isBoom), errBoom)
	}
	assert.Equal(t, breaker.StateClosed, cb.State())
}
