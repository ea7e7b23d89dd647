package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/quotedprintable"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

var sentAt = time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

func TestBuildMessage(t *testing.T) {
	html := "<p>" + strings.Repeat("x", 2000) + "</p>"
	raw, err := BuildMessage("bot@example.com", "me@example.com", "Daily Response Time Report - 2026-10-19", html, sentAt)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Header.Get("To") != "me@example.com" || msg.Header.Get("From") != "bot@example.com" {
		t.Errorf("unexpected headers %v", msg.Header)
	}
	if !strings.HasPrefix(msg.Header.Get("Content-Type"), "text/html") {
		t.Errorf("content type = %q", msg.Header.Get("Content-Type"))
	}

	body, _ := io.ReadAll(quotedprintable.NewReader(msg.Body))
	if string(body) != html {
		t.Error("body did not survive encoding")
	}
	for _, line := range strings.Split(string(raw), "\r\n") {
		if len(line) > 998 {
			t.Fatal("line exceeds RFC 5322 limit")
		}
	}
}

func TestSMTPSender(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth

	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "bot@example.com"})
	s.now = func() time.Time { return sentAt }
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotAuth = addr, from, to, a
		return nil
	}

	if err := s.Send(context.Background(), "me@example.com", "subj", "<p>hi</p>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "bot@example.com" || len(gotTo) != 1 || gotTo[0] != "me@example.com" {
		t.Errorf("unexpected envelope %s %s %v", gotAddr, gotFrom, gotTo)
	}
	if gotAuth == nil {
		t.Error("expected auth when username is set")
	}
}

func TestSMTPSender_Failure(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 25})
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("550 rejected")
	}

	err := s.Send(context.Background(), "me@example.com", "subj", "<p>hi</p>")
	var de *DeliveryError
	if !errors.As(err, &de) || de.Method != "smtp" {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
}

type fakeRaw struct {
	raw []byte
	err error
}

func (f *fakeRaw) Send(_ context.Context, raw []byte) error {
	f.raw = raw
	return f.err
}

func TestGmailSender(t *testing.T) {
	api := &fakeRaw{}
	g := NewGmailSender(api)
	if err := g.Send(context.Background(), "me@example.com", "subj", "<p>hi</p>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Contains(api.raw, []byte("To: me@example.com")) {
		t.Errorf("unexpected raw message %q", api.raw)
	}

	api.err = errors.New("quota")
	var de *DeliveryError
	if err := g.Send(context.Background(), "me@example.com", "subj", "x"); !errors.As(err, &de) {
		t.Errorf("expected DeliveryError, got %v", err)
	}
}
