package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/models"
)

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	Host          string        `yaml:"host"`           // SMTP server host
	Port          int           `yaml:"port"`           // 465 for implicit TLS, 587 for STARTTLS
	Username      string        `yaml:"username"`       // SMTP username (optional)
	Password      string        `yaml:"password"`       // SMTP password (optional)
	From          string        `yaml:"from"`           // From address
	SubjectPrefix string        `yaml:"subject_prefix"` // prepended to every subject
	Timeout       time.Duration `yaml:"timeout"`
}

// SetDefaults applies default values.
func (c *EmailConfig) SetDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "[Report] "
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("SMTP host is required")
	}
	if c.Port == 0 {
		return errors.New("SMTP port is required")
	}
	if c.From == "" {
		return errors.New("from address is required")
	}
	return nil
}

// EmailNotifier sends content via email.
type EmailNotifier struct {
	config    EmailConfig
	templates *Templates
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid email config")
	}

	templates, err := LoadTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "load templates")
	}

	return &EmailNotifier{
		config:    config,
		templates: templates,
	}, nil
}

// Name returns "email".
func (e *EmailNotifier) Name() string {
	return "email"
}

// Send mails the content to the recipient's to, cc and bcc addresses.
func (e *EmailNotifier) Send(ctx context.Context, msg *Message) error {
	cfg := msg.Recipient.Config
	to := cfg.Targets()
	if len(to) == 0 {
		return clientError(e.Name(), nil, "Email recipient has no target address")
	}
	cc := models.SplitTargets(cfg.CCTarget)
	bcc := models.SplitTargets(cfg.BCCTarget)

	raw, err := e.buildMIMEMessage(msg.Content, to, cc)
	if err != nil {
		return clientError(e.Name(), err, "Failed to build email: %s", err.Error())
	}

	rcpts := make([]string, 0, len(to)+len(cc)+len(bcc))
	rcpts = append(rcpts, to...)
	rcpts = append(rcpts, cc...)
	rcpts = append(rcpts, bcc...)

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()
	if err := e.sendMail(ctx, rcpts, raw); err != nil {
		return classifySMTPError(err)
	}
	return nil
}

// Close is a no-op for email notifier.
func (e *EmailNotifier) Close() error {
	return nil
}

// classifySMTPError maps permanent 5xx replies (rejected address, bad
// credentials) to client errors. Everything else is a system failure.
func classifySMTPError(err error) error {
	var tpe *textproto.Error
	if errors.As(err, &tpe) && tpe.Code >= 500 && tpe.Code < 600 {
		return clientError("email", err, "SMTP rejected the message: %s", err.Error())
	}
	return systemError("email", err, "Failed to send email: %s", err.Error())
}

type mimeFile struct {
	name        string
	contentType string
	data        []byte
}

// buildMIMEMessage builds a multipart/mixed message. Screenshots are inline
// parts of a multipart/related body; CSV and PDF are attachments.
func (e *EmailNotifier) buildMIMEMessage(c *content.Content, to, cc []string) ([]byte, error) {
	imageIDs := make([]string, len(c.Screenshots))
	for i := range c.Screenshots {
		imageIDs[i] = uuid.NewString() + "@blazereport"
	}

	data := ContentToTemplateData(c, imageIDs)
	htmlBody, err := e.templates.RenderHTML(data)
	if err != nil {
		return nil, errors.Wrap(err, "render HTML template")
	}
	plainBody, err := e.templates.RenderPlain(data)
	if err != nil {
		return nil, errors.Wrap(err, "render plain template")
	}

	var files []mimeFile
	if len(c.CSV) > 0 {
		files = append(files, mimeFile{name: c.Name + ".csv", contentType: "text/csv", data: c.CSV})
	}
	if len(c.PDF) > 0 {
		files = append(files, mimeFile{name: c.Name + ".pdf", contentType: "application/pdf", data: c.PDF})
	}

	var msg bytes.Buffer
	mixed := multipart.NewWriter(&msg)

	// Headers
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		fmt.Fprintf(&msg, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", e.config.SubjectPrefix+c.Name))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if c.Header.ExecutionID != "" {
		fmt.Fprintf(&msg, "X-BlazeReport-Execution-Id: %s\r\n", c.Header.ExecutionID)
	}
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	relatedBoundary := "rel-" + uuid.NewString()
	relatedPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/related; boundary=%q", relatedBoundary)},
	})
	if err != nil {
		return nil, err
	}
	related := multipart.NewWriter(relatedPart)
	if err := related.SetBoundary(relatedBoundary); err != nil {
		return nil, err
	}

	altBoundary := "alt-" + uuid.NewString()
	altPart, err := related.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", altBoundary)},
	})
	if err != nil {
		return nil, err
	}
	alt := multipart.NewWriter(altPart)
	if err := alt.SetBoundary(altBoundary); err != nil {
		return nil, err
	}
	if err := writeTextPart(alt, "text/plain", plainBody); err != nil {
		return nil, err
	}
	if err := writeTextPart(alt, "text/html", htmlBody); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}

	for i, img := range c.Screenshots {
		hdr := textproto.MIMEHeader{
			"Content-Type":              {"image/png"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-ID":                {"<" + imageIDs[i] + ">"},
			"Content-Disposition":       {fmt.Sprintf("inline; filename=%q", fmt.Sprintf("screenshot_%d.png", i+1))},
		}
		if err := writeBase64Part(related, hdr, img); err != nil {
			return nil, err
		}
	}
	if err := related.Close(); err != nil {
		return nil, err
	}

	for _, f := range files {
		hdr := textproto.MIMEHeader{
			"Content-Type":              {f.contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": f.name})},
		}
		if err := writeBase64Part(mixed, hdr, f.data); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func writeTextPart(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + "; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := io.WriteString(qp, body); err != nil {
		return err
	}
	return qp.Close()
}

// writeBase64Part writes data base64 encoded in 76 character lines.
func writeBase64Part(w *multipart.Writer, hdr textproto.MIMEHeader, data []byte) error {
	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := io.WriteString(part, encoded[:76]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = io.WriteString(part, encoded+"\r\n")
	return err
}

// sendMail sends the email via SMTP.
func (e *EmailNotifier) sendMail(ctx context.Context, rcpts []string, msg []byte) error {
	addr := net.JoinHostPort(e.config.Host, fmt.Sprintf("%d", e.config.Port))
	tlsConfig := &tls.Config{ServerName: e.config.Host}

	var (
		client *smtp.Client
		err    error
	)
	if e.config.Port == 465 {
		client, err = e.connectImplicitTLS(ctx, addr, tlsConfig)
	} else {
		client, err = e.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return errors.Wrap(err, "connect to SMTP server")
	}
	defer client.Close()

	if e.config.Username != "" && e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return errors.Wrap(err, "SMTP authentication failed")
		}
	}

	if err := client.Mail(extractEmail(e.config.From)); err != nil {
		return errors.Wrap(err, "set sender")
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(extractEmail(rcpt)); err != nil {
			return errors.Wrapf(err, "add recipient %s", rcpt)
		}
	}

	w, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "start data")
	}
	if _, err := w.Write(msg); err != nil {
		return errors.Wrap(err, "write message")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close data")
	}
	return client.Quit()
}

// connectImplicitTLS connects using implicit TLS (port 465).
func (e *EmailNotifier) connectImplicitTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: e.config.Timeout}, Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return smtp.NewClient(conn, e.config.Host)
}

// connectSTARTTLS connects using STARTTLS (port 587 or 25).
func (e *EmailNotifier) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: e.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, errors.Wrap(err, "STARTTLS failed")
		}
	}
	return client, nil
}

// extractEmail extracts the email address from a "Name <email>" format.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return strings.TrimSpace(addr)
}
