// Package smtp delivers rendered emails over per-brand SMTP connections.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
	apperrors "github.com/craftfolio/mailroom/internal/errors"
)

// TransportOptions configures the outbound SMTP transport.
type TransportOptions struct {
	Logger *slog.Logger // Optional: structured logger

	// SendTimeout bounds the full dial-auth-transmit sequence for one
	// message. Defaults to 30s.
	SendTimeout time.Duration

	// MessageIDDomain is the right-hand side of generated Message-ID
	// headers. Defaults to "mailroom.local".
	MessageIDDomain string
}

// Transport implements core.MailTransport over net/smtp. Connection
// parameters come from the brand on every send, so one transport serves all
// brands.
type Transport struct {
	logger      *slog.Logger
	sendTimeout time.Duration
	idDomain    string
}

var _ core.MailTransport = (*Transport)(nil)

// NewTransport constructs the SMTP transport.
func NewTransport(opts TransportOptions) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	idDomain := opts.MessageIDDomain
	if idDomain == "" {
		idDomain = "mailroom.local"
	}

	return &Transport{
		logger:      logger.With("component", "smtp_transport"),
		sendTimeout: timeout,
		idDomain:    idDomain,
	}
}

// Send transmits one message and returns the generated Message-ID. Brand
// records missing connection parameters produce configuration errors so the
// job is not retried against a broken brand.
func (t *Transport) Send(ctx context.Context, input core.SendMailInput) (string, error) {
	if err := validateBrand(input.Brand); err != nil {
		return "", err
	}
	if input.To == "" {
		return "", apperrors.ValidationField("to", "recipient address is required")
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.idDomain)
	message := buildMessage(input, messageID)

	ctx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()

	start := time.Now()
	if err := t.transmit(ctx, input.Brand, input.To, message); err != nil {
		return "", err
	}

	t.logger.DebugContext(ctx, "message transmitted",
		"brand_id", input.Brand.ID,
		"message_id", messageID,
		"duration_ms", time.Since(start).Milliseconds())
	return messageID, nil
}

func (t *Transport) transmit(ctx context.Context, brand *model.Brand, to string, message []byte) error {
	addr := net.JoinHostPort(brand.SMTPHost, strconv.Itoa(brand.SMTPPort))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "dialing smtp server")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, brand.SMTPHost)
	if err != nil {
		conn.Close()
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "smtp handshake")
	}
	defer client.Close()

	if brand.SMTPUseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return apperrors.Configuration("brand requires TLS but server does not offer STARTTLS")
		}
		tlsConfig := &tls.Config{ServerName: brand.SMTPHost, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "starting TLS")
		}
	}

	if brand.SMTPUsername != "" {
		auth := smtp.PlainAuth("", brand.SMTPUsername, brand.SMTPPassword, brand.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "smtp authentication")
		}
	}

	if err := client.Mail(brand.SenderEmail); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "MAIL FROM")
	}
	if err := client.Rcpt(to); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "RCPT TO")
	}

	w, err := client.Data()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "DATA")
	}
	if _, err := w.Write(message); err != nil {
		w.Close()
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "writing message body")
	}
	if err := w.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "finishing message body")
	}

	return client.Quit()
}

func validateBrand(brand *model.Brand) error {
	switch {
	case brand == nil:
		return apperrors.Configuration("brand is required")
	case brand.SMTPHost == "":
		return apperrors.Configuration("brand has no SMTP host")
	case brand.SMTPPort <= 0 || brand.SMTPPort > 65535:
		return apperrors.Configuration(fmt.Sprintf("brand has invalid SMTP port %d", brand.SMTPPort))
	case brand.SenderEmail == "":
		return apperrors.Configuration("brand has no sender address")
	}
	return nil
}

// buildMessage assembles the RFC 5322 wire form with CRLF line endings.
func buildMessage(input core.SendMailInput, messageID string) []byte {
	var b strings.Builder

	headers := []struct{ name, value string }{
		{"From", input.Brand.Sender()},
		{"To", input.To},
		{"Subject", sanitizeHeader(input.Subject)},
		{"Message-ID", messageID},
		{"Date", time.Now().UTC().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="UTF-8"`},
	}
	for _, h := range headers {
		b.WriteString(h.name)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(input.HTML)
	b.WriteString("\r\n")

	return []byte(b.String())
}

// sanitizeHeader strips CR and LF to block header injection via subjects.
func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", "")
	return strings.ReplaceAll(v, "\n", "")
}
