// Package smtp implements the notify Provider over SMTP with implicit TLS
// (Gmail's port 465 by default).
package smtp

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/zulandar/nudge/internal/notify"
)

// Provider sends mail through an SMTP server over TLS.
type Provider struct {
	host     string
	port     int
	username string
	password string
	dial     func(ctx context.Context, addr string) (net.Conn, error)
	now      func() time.Time
}

// Opts holds parameters for creating an SMTP Provider.
type Opts struct {
	Host     string // defaults to smtp.gmail.com
	Port     int    // defaults to 465
	Username string // also used as the From address
	Password string // app password
}

// New creates an SMTP provider.
func New(opts Opts) *Provider {
	host := opts.Host
	if host == "" {
		host = "smtp.gmail.com"
	}
	port := opts.Port
	if port == 0 {
		port = 465
	}
	p := &Provider{
		host:     host,
		port:     port,
		username: opts.Username,
		password: opts.Password,
		now:      time.Now,
	}
	p.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := &tls.Dialer{Config: &tls.Config{ServerName: host}}
		return d.DialContext(ctx, "tcp", addr)
	}
	return p
}

// Name returns "smtp".
func (p *Provider) Name() string { return "smtp" }

// Configured reports whether username and password are set.
func (p *Provider) Configured() bool { return p.username != "" && p.password != "" }

// Send delivers env. The mailbox owner is the envelope sender, as Gmail
// requires; env.FromName is kept as the display name.
func (p *Provider) Send(ctx context.Context, env notify.Envelope) error {
	if !p.Configured() {
		return fmt.Errorf("smtp: credentials not configured")
	}
	msg, err := buildMessage(p.username, env, p.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	c, err := smtp.NewClient(conn, p.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp: handshake: %w", err)
	}
	defer c.Close()

	if err := c.Auth(smtp.PlainAuth("", p.username, p.password, p.host)); err != nil {
		return fmt.Errorf("smtp: auth: %w", err)
	}
	if err := c.Mail(p.username); err != nil {
		return fmt.Errorf("smtp: MAIL FROM: %w", err)
	}
	if err := c.Rcpt(env.To); err != nil {
		return fmt.Errorf("smtp: RCPT TO %s: %w", env.To, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: end data: %w", err)
	}
	return c.Quit()
}

// buildMessage renders a multipart/alternative message with plain and HTML
// parts.
func buildMessage(from string, env notify.Envelope, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		ctype, content string
	}{
		{"text/plain; charset=UTF-8", env.PlainBody},
		{"text/html; charset=UTF-8", env.HTMLBody},
	}
	for _, part := range parts {
		if part.content == "" {
			continue
		}
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("smtp: build message: %w", err)
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("smtp: build message: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("smtp: build message: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("smtp: build message: %w", err)
	}

	var msg bytes.Buffer
	fromAddr := mail.Address{Name: env.FromName, Address: from}
	toAddr := mail.Address{Address: env.To}
	fmt.Fprintf(&msg, "From: %s\r\n", fromAddr.String())
	fmt.Fprintf(&msg, "To: %s\r\n", toAddr.String())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", env.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@%s>\r\n", messageID(), domainOf(from))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func messageID() string {
	var b [12]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func domainOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return "localhost"
}
