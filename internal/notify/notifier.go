// Package notify delivers best-effort messages to library members. Delivery
// is always fire-and-forget from the lending workflow's point of view; a
// failed send is logged by the caller and never retried here.
package notify

import (
	"log"

	"gopkg.in/gomail.v2"
)

// Notifier sends a single message to a member address.
type Notifier interface {
	Send(to, subject, body string) error
}

// SMTPNotifier delivers mail through a plain SMTP account.
type SMTPNotifier struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPNotifier(host string, port int, username, password, from string) *SMTPNotifier {
	return &SMTPNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (n *SMTPNotifier) Send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return n.dialer.DialAndSend(m)
}

// LogNotifier is the fallback when no SMTP account is configured; it writes
// the message to the process log and reports success.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(to, subject, body string) error {
	log.Printf("[INFO] notify: to=%s subject=%q body=%q", to, subject, body)
	return nil
}
