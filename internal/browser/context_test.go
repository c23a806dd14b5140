// internal/browser/context_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	const key ctxKey = "target"

	t.Run("InheritsSessionValues", func(t *testing.T) {
		session := context.WithValue(context.Background(), key, "tab-1")

		ctx, cancel := CombineContext(session, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", ctx.Value(key))
		assert.NoError(t, ctx.Err())
	})

	t.Run("CancelledBySession", func(t *testing.T) {
		session, cancelSession := context.WithCancel(context.Background())

		ctx, cancel := CombineContext(session, context.Background())
		defer cancel()

		cancelSession()
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("CancelledByOperation", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())

		ctx, cancel := CombineContext(context.Background(), op)
		defer cancel()

		cancelOp()
		assert.Eventually(t, func() bool {
			return ctx.Err() != nil
		}, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("OperationDeadlineIsTheCause", func(t *testing.T) {
		op, cancelOp := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelOp()

		ctx, cancel := CombineContext(context.Background(), op)
		defer cancel()

		<-ctx.Done()
		assert.ErrorIs(t, context.Cause(ctx), context.DeadlineExceeded)
	})

	t.Run("SessionDeadlineIsKept", func(t *testing.T) {
		deadline := time.Now().Add(time.Minute)
		session, cancelSession := context.WithDeadline(context.Background(), deadline)
		defer cancelSession()

		ctx, cancel := CombineContext(session, context.Background())
		defer cancel()

		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.True(t, got.Equal(deadline))
	})

	t.Run("ExplicitCancel", func(t *testing.T) {
		ctx, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	const key ctxKey = "scope"

	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key, "example.com"))
	detached := Detach(parent)
	cancel()

	assert.Equal(t, "example.com", detached.Value(key))
	assert.NoError(t, detached.Err(), "detached context must outlive its parent")
	_, ok := detached.Deadline()
	assert.False(t, ok)
}
