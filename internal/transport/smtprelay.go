package transport

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"mime"
	"net"
	"os"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTPGateway relays messages through a configured smarthost. The
// correlation identifier is the Message-ID we stamp on the outgoing
// mail, since an SMTP relay assigns none of its own.
type SMTPGateway struct {
	host     string
	port     int
	username string
	password string
	from     string
	hostname string
	timeout  time.Duration

	dkimOptions *dkim.SignOptions
}

// SMTPOptions configures the SMTP relay gateway
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Hostname string
	Timeout  time.Duration
}

// NewSMTPGateway creates a new SMTP relay gateway
func NewSMTPGateway(opts SMTPOptions) *SMTPGateway {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &SMTPGateway{
		host:     opts.Host,
		port:     opts.Port,
		username: opts.Username,
		password: opts.Password,
		from:     opts.From,
		hostname: opts.Hostname,
		timeout:  opts.Timeout,
	}
}

// EnableDKIM configures DKIM signing of relayed messages
func (g *SMTPGateway) EnableDKIM(domain, selector, keyFile string) error {
	key, err := loadDKIMKey(keyFile)
	if err != nil {
		return fmt.Errorf("failed to load DKIM key: %w", err)
	}
	g.dkimOptions = &dkim.SignOptions{
		Domain:                 domain,
		Selector:               selector,
		Signer:                 key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}
	return nil
}

// Send relays the message through the smarthost
func (g *SMTPGateway) Send(ctx context.Context, req *Request) (*Result, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), g.hostname)

	raw := g.buildMessage(req, messageID)
	if g.dkimOptions != nil {
		signed, err := g.sign(raw)
		if err != nil {
			return nil, &Error{Temporary: false, Message: fmt.Sprintf("DKIM signing failed: %v", err)}
		}
		raw = signed
	}

	addr := fmt.Sprintf("%s:%d", g.host, g.port)
	dialer := net.Dialer{Timeout: g.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Temporary: true, Message: fmt.Sprintf("failed to connect to %s: %v", addr, err)}
	}
	conn.SetDeadline(time.Now().Add(g.timeout))

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(g.hostname); err != nil {
		return nil, classifySMTPError(err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: g.host}); err != nil {
			return nil, classifySMTPError(err)
		}
	}
	if g.username != "" {
		auth := sasl.NewPlainClient("", g.username, g.password)
		if err := c.Auth(auth); err != nil {
			return nil, classifySMTPError(err)
		}
	}

	if err := c.SendMail(g.from, []string{req.Recipient}, bytes.NewReader(raw)); err != nil {
		return nil, classifySMTPError(err)
	}
	if err := c.Quit(); err != nil {
		// Message was accepted; a failed QUIT is not a delivery failure
		_ = err
	}

	return &Result{ProviderMessageID: messageID}, nil
}

// buildMessage assembles an RFC 5322 message with an HTML body
func (g *SMTPGateway) buildMessage(req *Request, messageID string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", g.from)
	fmt.Fprintf(&buf, "To: %s\r\n", req.Recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", req.Subject))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "X-Campaign-ID: %s\r\n", req.Metadata.CampaignID)
	fmt.Fprintf(&buf, "X-Account-ID: %s\r\n", req.Metadata.AccountID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(req.HTMLBody)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func (g *SMTPGateway) sign(raw []byte) ([]byte, error) {
	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), g.dkimOptions); err != nil {
		return nil, err
	}
	return signed.Bytes(), nil
}

// classifySMTPError maps SMTP status codes onto the retry policy:
// 4xx replies are transient, 5xx replies are permanent
func classifySMTPError(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &Error{
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Message:   fmt.Sprintf("smtp %d: %s", smtpErr.Code, smtpErr.Message),
		}
	}
	return &Error{Temporary: true, Message: err.Error()}
}

func loadDKIMKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return key, nil
}
