package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// receiveIDEmail addresses Lark users by their enterprise email
const receiveIDEmail = "email"

// keySpace derives Lark message uuids, which are limited to 50 characters, from
// activity idempotency keys
var keySpace = uuid.MustParse("6f1c2a3e-8d4b-4c7a-9e55-2b7d0c4f9a11")

// LarkConfig holds Lark app credentials
type LarkConfig struct {
	AppID     string
	AppSecret string
	// BaseURL overrides the open platform endpoint; empty uses the SDK default
	BaseURL string
}

// LarkNotifier delivers notifications as Lark IM text messages
type LarkNotifier struct {
	client *lark.Client
	logger *zap.Logger
}

// NewLarkNotifier creates a notifier backed by the Lark SDK
func NewLarkNotifier(cfg LarkConfig, logger *zap.Logger) *LarkNotifier {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}

	return &LarkNotifier{
		client: lark.NewClient(cfg.AppID, cfg.AppSecret, opts...),
		logger: logger,
	}
}

func (n *LarkNotifier) NotifyApprover(ctx context.Context, req leave.Request) error {
	return n.send(ctx, ApproverMessage(req))
}

func (n *LarkNotifier) SendReminder(ctx context.Context, req leave.Request, seq int) error {
	return n.send(ctx, ReminderMessage(req, seq))
}

func (n *LarkNotifier) NotifyEmployee(ctx context.Context, req leave.Request, result leave.Result) error {
	return n.send(ctx, EmployeeMessage(req, result))
}

func (n *LarkNotifier) send(ctx context.Context, msg Message) error {
	content, err := json.Marshal(map[string]string{"text": msg.Text()})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	body := larkIm.NewCreateMessageReqBodyBuilder().
		ReceiveId(msg.To).
		MsgType("text").
		Content(string(content))
	// Lark drops a second message carrying the same uuid within an hour
	if key, ok := port.IdempotencyKey(ctx); ok {
		body = body.Uuid(MessageUUID(key))
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDEmail).
		Body(body.Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send message",
			zap.String("receive_id", msg.To),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		n.logger.Error("API returned failure",
			zap.String("receive_id", msg.To),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	n.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", msg.To))
	return nil
}

// MessageUUID maps an idempotency key to a stable Lark message uuid
func MessageUUID(key string) string {
	return uuid.NewSHA1(keySpace, []byte(key)).String()
}

var (
	_ port.Notifier = (*LarkNotifier)(nil)
	_ port.Notifier = (*LogNotifier)(nil)
)
