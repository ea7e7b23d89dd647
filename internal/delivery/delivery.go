// Package delivery sends the rendered report to the user.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/smtp"
	"strconv"
	"time"
)

// Sender delivers one HTML email.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// DeliveryError is returned when the outbound channel rejects or cannot be
// reached. The report was rendered but the user did not receive it.
type DeliveryError struct {
	Method string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver report via %s: %v", e.Method, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// BuildMessage renders an RFC 5322 message with a quoted-printable HTML body.
func BuildMessage(from, to, subject, html string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(html)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return buf.Bytes(), nil
}

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender relays through an SMTP server with STARTTLS and PLAIN auth.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Method: "smtp", Err: err}
	}
	msg, err := BuildMessage(s.cfg.From, to, subject, html, s.now())
	if err != nil {
		return &DeliveryError{Method: "smtp", Err: err}
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	if err := s.sendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return &DeliveryError{Method: "smtp", Err: err}
	}
	return nil
}

// RawSender posts an already encoded message. The Gmail client implements it.
type RawSender interface {
	Send(ctx context.Context, raw []byte) error
}

// GmailSender delivers through the user's own mailbox.
type GmailSender struct {
	api RawSender
	now func() time.Time
}

func NewGmailSender(api RawSender) *GmailSender {
	return &GmailSender{api: api, now: time.Now}
}

func (g *GmailSender) Send(ctx context.Context, to, subject, html string) error {
	msg, err := BuildMessage("", to, subject, html, g.now())
	if err != nil {
		return &DeliveryError{Method: "gmail", Err: err}
	}
	if err := g.api.Send(ctx, msg); err != nil {
		return &DeliveryError{Method: "gmail", Err: err}
	}
	return nil
}
