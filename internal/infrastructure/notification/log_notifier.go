package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// LogNotifier writes notifications to the structured log instead of delivering them
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyApprover(ctx context.Context, req leave.Request) error {
	return n.emit(ctx, "notifyApprover", ApproverMessage(req))
}

func (n *LogNotifier) SendReminder(ctx context.Context, req leave.Request, seq int) error {
	return n.emit(ctx, "sendReminder", ReminderMessage(req, seq))
}

func (n *LogNotifier) NotifyEmployee(ctx context.Context, req leave.Request, result leave.Result) error {
	return n.emit(ctx, "notifyEmployee", EmployeeMessage(req, result))
}

func (n *LogNotifier) emit(ctx context.Context, activity string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, _ := port.IdempotencyKey(ctx)
	n.logger.Info("Notification",
		zap.String("activity", activity),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
		zap.String("idempotency_key", key))
	return nil
}
