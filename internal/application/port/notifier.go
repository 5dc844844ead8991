package port

import (
	"context"

	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// Notifier delivers the three notification operations. Implementations may be called
// more than once for the same occurrence and should use the idempotency key from
// IdempotencyKey(ctx) to collapse duplicates.
type Notifier interface {
	NotifyApprover(ctx context.Context, req leave.Request) error
	SendReminder(ctx context.Context, req leave.Request, n int) error
	NotifyEmployee(ctx context.Context, req leave.Request, result leave.Result) error
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches the key identifying one logical activity occurrence
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the activity occurrence key carried by ctx, if any
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}
