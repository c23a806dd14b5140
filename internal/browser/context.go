// internal/browser/context.go
package browser

import "context"

// CombineContext derives a context from session, so it carries the CDP target
// and its values, that is also cancelled when op is done. context.Cause on the
// result reports op's cause when op ended first.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(session)
	stop := context.AfterFunc(op, func() {
		cancel(context.Cause(op))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach keeps the values of ctx but none of its cancellation, for cleanup
// that must run after the caller's context is gone.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
