package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rentfold/rf/internal/config"
)

// RedisSender implements the Sender interface by storing emails in Redis.
// Integration tests fetch the stored email through the service API instead of
// polling a real inbox.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{
		client: client,
		cfg:    cfg,
	}
}

// kindFromSubject classifies the email for key differentiation so a test can
// look up "the invitation email sent to X" directly.
func kindFromSubject(subject string) string {
	switch {
	case strings.Contains(subject, "invited to apply"):
		return "invitation"
	case strings.Contains(subject, "Rent payment due"):
		return "rent_due"
	case strings.Contains(subject, "overdue"):
		return "invoice_overdue"
	case strings.Contains(subject, "invoice"), strings.Contains(subject, "Invoice"):
		return "invoice_sent"
	case strings.Contains(subject, "declined"):
		return "lease_rejected"
	default:
		return "notice"
	}
}

// Send stores a representation of the email in Redis instead of sending it.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	kind := kindFromSubject(subject)

	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	emailData := map[string]interface{}{
		"to":      strings.Join(to, ", "),
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
		"body":    string(rawMessage),
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
		"kind":    kind,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, kind)
	ttl := 5 * time.Minute

	err = s.client.Set(ctx, key, jsonData, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (TTL: %v, To: %s, Subject: %s)", key, ttl, strings.Join(to, ", "), subject)
	return nil
}
