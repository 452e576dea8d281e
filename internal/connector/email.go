package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var emailCapabilities = []string{"send", "read", "list"}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// SMTPConfig configures outbound delivery. An empty Host keeps messages in
// the outbox only.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SendFunc delivers a raw RFC 5322 message. It matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type outboxMessage struct {
	ID        string    `json:"id"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Delivered bool      `json:"delivered"`
	SentAt    time.Time `json:"sent_at"`
}

// Email sends mail over SMTP and keeps an in-process outbox that read and
// list operate on.
type Email struct {
	cfg    SMTPConfig
	send   SendFunc
	logger *slog.Logger

	mu     sync.Mutex
	outbox []outboxMessage
}

// NewEmail returns an Email connector. send may be nil to use smtp.SendMail.
func NewEmail(cfg SMTPConfig, send SendFunc, logger *slog.Logger) *Email {
	if send == nil {
		send = smtp.SendMail
	}
	return &Email{cfg: cfg, send: send, logger: logger}
}

func (c *Email) Type() string { return "email" }

func (c *Email) Capabilities() []string { return emailCapabilities }

func (c *Email) Run(_ context.Context, action string, params Params) (Result, error) {
	switch action {
	case "send":
		return c.sendMessage(params), nil
	case "read":
		return c.read(params), nil
	case "list":
		return c.list(), nil
	default:
		return Failure("Unknown action: %s", action), nil
	}
}

func (c *Email) sendMessage(params Params) Result {
	var to []string
	for _, v := range params.Slice("to") {
		for _, addr := range strings.Split(fmt.Sprint(v), ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
	}
	if len(to) == 0 {
		return Failure("to is required")
	}
	for _, addr := range to {
		if !emailRegex.MatchString(addr) {
			return Failure("Invalid recipient address: %s", addr)
		}
	}
	subject := params.StringOr("subject", "")
	if subject == "" {
		return Failure("subject is required")
	}
	if strings.ContainsAny(subject, "\r\n") {
		return Failure("subject must be a single line")
	}
	body, _ := params.String("body")

	msg := outboxMessage{
		ID:      uuid.New().String(),
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC(),
	}

	if c.cfg.Host == "" {
		c.logger.Info("email: message queued (SMTP not configured)", "to", to, "subject", subject)
	} else {
		raw := fmt.Sprintf(
			"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
			c.cfg.From, strings.Join(to, ", "), subject, body,
		)
		addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
		var auth smtp.Auth
		if c.cfg.User != "" {
			auth = smtp.PlainAuth("", c.cfg.User, c.cfg.Password, c.cfg.Host)
		}
		if err := c.send(addr, auth, c.cfg.From, to, []byte(raw)); err != nil {
			return Failure("Error sending email: %v", err)
		}
		msg.Delivered = true
	}

	c.mu.Lock()
	c.outbox = append(c.outbox, msg)
	c.mu.Unlock()

	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Email sent to %s", strings.Join(to, ", ")),
		Fields: map[string]any{
			"action":     "send",
			"message_id": msg.ID,
			"to":         to,
			"subject":    subject,
			"delivered":  msg.Delivered,
		},
	}
}

func (c *Email) read(params Params) Result {
	id := params.First("message_id", "id")
	if id == "" {
		return Failure("message_id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.outbox {
		if m.ID == id {
			return Success(map[string]any{
				"action":     "read",
				"message_id": m.ID,
				"to":         m.To,
				"subject":    m.Subject,
				"body":       m.Body,
				"delivered":  m.Delivered,
				"sent_at":    m.SentAt.Format(time.RFC3339),
			})
		}
	}
	return Failure("Message not found: %s", id)
}

func (c *Email) list() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]map[string]any, 0, len(c.outbox))
	for _, m := range c.outbox {
		messages = append(messages, map[string]any{
			"message_id": m.ID,
			"to":         m.To,
			"subject":    m.Subject,
			"sent_at":    m.SentAt.Format(time.RFC3339),
		})
	}
	return Success(map[string]any{
		"action":   "list",
		"messages": messages,
		"count":    len(messages),
	})
}
