package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const smtpTimeout = 30 * time.Second

// SMTPConfig holds the connection settings for one SMTP provider.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	RequireTLS bool
}

// SMTPProvider delivers notifications over SMTP with STARTTLS.
type SMTPProvider struct {
	id  string
	cfg SMTPConfig
}

// NewSMTPProvider builds an SMTP provider for one routing table entry.
func NewSMTPProvider(id string, cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{id: id, cfg: cfg}
}

func (p *SMTPProvider) ID() string { return p.id }

// Send delivers one message. The message ID it returns is generated locally
// and embedded in the Message-ID header so the log row and the delivered
// mail can be correlated.
func (p *SMTPProvider) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	messageID := uuid.New().String()

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	dialer := &net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial smtp server: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(smtpTimeout))

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return "", fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Quit()

	tlsActive := false
	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: p.cfg.Host}
		if err := client.StartTLS(tlsConfig); err != nil {
			return "", fmt.Errorf("start tls: %w", err)
		}
		tlsActive = true
	} else if p.cfg.RequireTLS {
		return "", fmt.Errorf("smtp server %s does not support STARTTLS", p.cfg.Host)
	}

	if p.cfg.Username != "" {
		if !tlsActive {
			return "", fmt.Errorf("smtp auth refused without TLS")
		}
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(p.cfg.From); err != nil {
		return "", fmt.Errorf("smtp mail failed: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return "", fmt.Errorf("smtp rcpt failed: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := wc.Write([]byte(p.buildMessage(recipient, messageID, msg))); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("smtp write failed: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("smtp close failed: %w", err)
	}

	return messageID, nil
}

func (p *SMTPProvider) buildMessage(recipient, messageID string, msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", messageID, p.cfg.Host)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return b.String()
}
