package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// SMTPSender delivers through an SMTP relay. Each Send opens its own
// connection, so one sender is safe for concurrent workers.
type SMTPSender struct {
	host     string
	port     int
	secure   bool
	username string
	password string
	dialer   *net.Dialer
	log      *logger.Component
}

// NewSMTPSender creates a sender for host:port. secure selects implicit TLS
// (usually port 465); otherwise STARTTLS is used when the server offers it.
func NewSMTPSender(host string, port int, secure bool, username, password string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		secure:   secure,
		username: username,
		password: password,
		dialer:   &net.Dialer{Timeout: 30 * time.Second},
		log:      logger.For("transport.smtp"),
	}
}

// Send builds a multipart/alternative message and runs one SMTP
// transaction.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*domain.Receipt, error) {
	if s.host == "" {
		return nil, ErrNotConfigured
	}
	if err := validate(msg); err != nil {
		return nil, err
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, Permanentf("smtp: invalid from %q: %w", msg.From, err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, Permanentf("smtp: invalid recipient: %w", err)
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), s.host)
	raw, err := buildMIME(msg, from, to, messageID)
	if err != nil {
		return nil, Permanent(err)
	}

	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	if err := s.deliver(ctx, addr, from.Address, to.Address, raw); err != nil {
		s.log.Warn("send failed", "to", msg.To, "job_id", msg.JobID, "error", err)
		return nil, classifySMTP(err)
	}

	s.log.Debug("sent", "to", msg.To, "job_id", msg.JobID, "message_id", messageID)
	return &domain.Receipt{
		MessageID: messageID,
		Transport: "smtp",
		Accepted:  []string{to.Address},
		SentAt:    time.Now(),
	}, nil
}

func (s *SMTPSender) deliver(ctx context.Context, addr, from, to string, raw []byte) error {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp: connect %s: %w", addr, err)
	}
	// net/smtp has no context support; the deadline bounds the whole session.
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp: client: %w", err)
	}
	defer c.Close()

	if !s.secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return fmt.Errorf("smtp: STARTTLS: %w", err)
			}
		}
	}
	if s.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
				return fmt.Errorf("smtp: AUTH: %w", err)
			}
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp: MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp: RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: DATA close: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	if s.secure {
		d := &tls.Dialer{NetDialer: s.dialer, Config: &tls.Config{ServerName: s.host}}
		return d.DialContext(ctx, "tcp", addr)
	}
	return s.dialer.DialContext(ctx, "tcp", addr)
}

// classifySMTP treats 5xx replies as permanent. 4xx replies and connection
// problems are transient.
func classifySMTP(err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 && tp.Code < 600 {
		return Permanent(err)
	}
	return err
}

// buildMIME renders headers plus a quoted-printable body. With both parts
// present the body is multipart/alternative, text first.
func buildMIME(msg *Message, from, to *mail.Address, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Message-ID", "<"+messageID+">")
	header("Date", time.Now().UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	if msg.JobID != "" {
		header("X-Job-ID", msg.JobID)
	}

	switch {
	case msg.HTML != "" && msg.Text != "":
		boundary := "=_" + strings.ReplaceAll(uuid.New().String(), "-", "")
		header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		buf.WriteString("\r\n")
		if err := writePart(&buf, boundary, "text/plain", msg.Text); err != nil {
			return nil, err
		}
		if err := writePart(&buf, boundary, "text/html", msg.HTML); err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case msg.HTML != "":
		if err := writeSingle(&buf, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	default:
		if err := writeSingle(&buf, "text/plain", msg.Text); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writePart(buf *bytes.Buffer, boundary, contentType, body string) error {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	if err := writeSingle(buf, contentType, body); err != nil {
		return err
	}
	buf.WriteString("\r\n")
	return nil
}

func writeSingle(buf *bytes.Buffer, contentType, body string) error {
	fmt.Fprintf(buf, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("smtp: encode body: %w", err)
	}
	return qp.Close()
}
