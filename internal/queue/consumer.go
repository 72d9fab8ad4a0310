package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AuditLogFile is the file, inside the audit directory, that receives one
// line per consumed event.
const AuditLogFile = "credential_audit.log"

// AuditConsumer drains QueueName into an append-only audit log.
type AuditConsumer struct {
	url    string
	dir    string
	logger *zap.Logger
	mu     sync.Mutex // serializes file appends
}

func NewAuditConsumer(url, dir string, logger *zap.Logger) *AuditConsumer {
	if dir == "" {
		dir = "logs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditConsumer{url: url, dir: dir, logger: logger.Named("audit-consumer")}
}

// Run connects to the broker and consumes until ctx is cancelled.  Dial
// failures and dropped connections are retried with exponential backoff
// capped at 30s.  Run returns nil once ctx is done.
func (c *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(d.Body); err != nil {
				c.logger.Error("handle message failed", zap.Error(err))
				// Reject without requeue so a poison message cannot spin.
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one event body and appends it to the audit log.
func (c *AuditConsumer) HandleMessage(body []byte) error {
	var ev CredentialEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Event == "" || ev.CredentialID == "" {
		return errors.New("event type and credential_id are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.dir, AuditLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatAuditLine(ev)); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// FormatAuditLine renders ev as one newline-terminated line.  Empty fields
// are left out.
func FormatAuditLine(ev CredentialEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | credential_id=%s | member_id=%s", ev.OccurredAt, ev.Event, ev.CredentialID, ev.MemberID)
	field := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, " | %s=%s", k, v)
		}
	}
	field("actor_id", ev.ActorID)
	field("channel", ev.Channel)
	field("secret", ev.MaskedSecret)
	if ev.SendCount > 0 {
		fmt.Fprintf(&b, " | send_count=%d", ev.SendCount)
	}
	field("outcome", ev.Outcome)
	field("origin_ip", ev.OriginIP)
	b.WriteByte('\n')
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
