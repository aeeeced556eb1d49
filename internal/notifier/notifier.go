package notifier

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
)

// Notifier delivers a single message to a recipient. Implementations are
// swappable (console for development, SMTP for real mail) behind the same
// interface — the dispatcher never knows which one it holds.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// ConsoleNotifier logs the message instead of sending it. Development default.
type ConsoleNotifier struct{}

func NewConsole() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (c *ConsoleNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	log.Printf("[notify] to=%s :: %s :: %s", recipient, subject, body)
	return nil
}

// SMTPNotifier sends mail through a plain SMTP relay.
type SMTPNotifier struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

func NewSMTP(addr, from string, auth smtp.Auth) *SMTPNotifier {
	return &SMTPNotifier{Addr: addr, From: from, Auth: auth}
}

// Notify sends the message once. smtp.SendMail has no context support, so the
// send runs in its own goroutine and the context bounds how long we wait —
// on timeout the attempt is reported failed and never retried.
func (s *SMTPNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	msg := []byte("From: " + s.From + "\r\n" +
		"To: " + recipient + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.Addr, s.Auth, s.From, []string{recipient}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send timed out: %w", ctx.Err())
	}
}
