package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// HTTPTransport submits messages to an email-sending API as JSON. Any
// non-2xx response counts as a failed delivery.
type HTTPTransport struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPTransport returns an HTTPTransport posting to endpoint.
func NewHTTPTransport(endpoint string, apiKey string) *HTTPTransport {
	return &HTTPTransport{Endpoint: endpoint, APIKey: apiKey, HTTPClient: http.DefaultClient}
}

// Send posts msg to the API.
func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("email api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email api: unexpected status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// SMTPTransport submits messages to an SMTP server, upgrading to TLS when
// the server offers STARTTLS.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	// InsecureSkipVerify disables certificate checks, for local mail catchers.
	InsecureSkipVerify bool
}

func (t *SMTPTransport) auth(extensions string) (smtp.Auth, error) {
	if strings.Contains(extensions, "PLAIN") {
		return smtp.PlainAuth("", t.Username, t.Password, t.Host), nil
	} else if strings.Contains(extensions, "CRAM-MD5") {
		return smtp.CRAMMD5Auth(t.Username, t.Password), nil
	}
	return nil, fmt.Errorf("SMTP server doesn't support PLAIN or CRAM-MD5 authentication")
}

func formatMessage(msg Message) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + msg.From + "\r\n")
	sb.WriteString("To: " + msg.To + "\r\n")
	sb.WriteString("Subject: " + msg.Subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.HTML)
	return []byte(sb.String())
}

// Send delivers msg, honoring ctx's deadline for the whole conversation.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		err = c.StartTLS(&tls.Config{ServerName: t.Host, InsecureSkipVerify: t.InsecureSkipVerify})
		if err != nil {
			return err
		}
	}
	if t.Username != "" {
		ok, extensions := c.Extension("AUTH")
		if !ok {
			return fmt.Errorf("remote SMTP server doesn't support any authentication mechanisms")
		}
		auth, err := t.auth(extensions)
		if err != nil {
			return err
		}
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(msg.From); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(formatMessage(msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
