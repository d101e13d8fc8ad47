package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"text/template"
	"time"
)

// bodyTemplate renders the plain-text body of a combined notification.
var bodyTemplate = template.Must(template.New("body").Parse(
	`{{.Count}} notification{{if gt .Count 1}}s{{end}} in category {{.Category}}:

{{range .Titles}}  - {{.}}
{{end}}
First: {{.First.Format "2006-01-02 15:04:05 MST"}}
Last:  {{.Last.Format "2006-01-02 15:04:05 MST"}}
`))

// EmailDispatcher delivers flushed notifications over SMTP using the
// transport settings resolved per category.
type EmailDispatcher struct {
	dialTimeout time.Duration
}

// NewEmailDispatcher creates an SMTP dispatcher.
func NewEmailDispatcher() *EmailDispatcher {
	return &EmailDispatcher{dialTimeout: 30 * time.Second}
}

// Send delivers one combined notification to the category's recipients.
func (e *EmailDispatcher) Send(ctx context.Context, f Flush) error {
	s := f.Settings
	if s.SMTPHost == "" {
		return fmt.Errorf("category %q: no smtp_host resolved", f.Category)
	}
	if s.From == "" || len(s.To) == 0 {
		return fmt.Errorf("category %q: from and to are required for email delivery", f.Category)
	}
	port := s.SMTPPort
	if port == 0 {
		port = 587
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(f.Category), f.Title())

	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, f); err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	msg := buildMessage(s.From, s.To, subject, body.String())
	return e.sendMail(ctx, s, port, msg)
}

// Close is a no-op; connections are per send.
func (e *EmailDispatcher) Close() error {
	return nil
}

// buildMessage builds a plain-text RFC 5322 message.
func buildMessage(from string, to []string, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return []byte(msg.String())
}

// sendMail connects, authenticates, and submits the message.
func (e *EmailDispatcher) sendMail(ctx context.Context, s Settings, port int, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", s.SMTPHost, port)
	tlsConfig := &tls.Config{ServerName: s.SMTPHost}

	var client *smtp.Client
	var err error
	if port == 465 {
		// Implicit TLS (SMTPS)
		client, err = e.connectImplicitTLS(addr, s.SMTPHost, tlsConfig)
	} else {
		// STARTTLS (port 587 or 25)
		client, err = e.connectSTARTTLS(ctx, addr, s.SMTPHost, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if s.SMTPUser != "" && s.SMTPPassword != "" {
		auth := smtp.PlainAuth("", s.SMTPUser, s.SMTPPassword, s.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.From)); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range s.To {
		if err := client.Rcpt(extractEmail(rcpt)); err != nil {
			return fmt.Errorf("add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

func (e *EmailDispatcher) connectImplicitTLS(addr, host string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, host)
}

func (e *EmailDispatcher) connectSTARTTLS(ctx context.Context, addr, host string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: e.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}

// extractEmail pulls the address out of "Name <addr>" forms.
func extractEmail(s string) string {
	if start := strings.IndexByte(s, '<'); start >= 0 {
		if end := strings.IndexByte(s[start:], '>'); end > 0 {
			return s[start+1 : start+end]
		}
	}
	return s
}
