package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// EmailConfig holds SMTP connection details.
type EmailConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// emailKwargs is the keyword contract of the email task type.
type emailKwargs struct {
	To      string   `json:"to"`
	Cc      []string `json:"cc"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// EmailHandler sends a plain-text email through one SMTP relay.
type EmailHandler struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailHandler(cfg EmailConfig) *EmailHandler {
	return &EmailHandler{cfg: cfg, send: smtp.SendMail}
}

func (h *EmailHandler) TaskType() string { return "email" }

func (h *EmailHandler) Signature() string { return "handlers.email(to, cc, subject, body)" }

func (h *EmailHandler) Handle(ctx context.Context, call Call) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.email")
	defer span.End()

	var p emailKwargs
	if err := BindKwargs(call, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid kwargs")
		return err
	}
	recipients, err := p.recipients()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid recipients")
		return err
	}
	span.SetAttributes(
		attribute.String("email.to", p.To),
		attribute.Int("email.recipients", len(recipients)),
	)

	msg := composeMessage(h.cfg.From, p, call.TaskID, time.Now())
	addr := net.JoinHostPort(h.cfg.Host, strconv.Itoa(h.cfg.Port))
	var auth smtp.Auth
	if h.cfg.Username != "" {
		auth = smtp.PlainAuth("", h.cfg.Username, h.cfg.Password, h.cfg.Host)
	}

	// SendMail takes no context; race it so cancellation still returns.
	done := make(chan error, 1)
	go func() { done <- h.send(addr, auth, h.cfg.From, recipients, msg) }()

	select {
	case err := <-done:
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "smtp send failed")
			return fmt.Errorf("smtp send to %s: %w", strings.Join(recipients, ", "), err)
		}
		return nil
	case <-ctx.Done():
		err := fmt.Errorf("email send cancelled: %w", ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return err
	}
}

// recipients validates every address and returns them in envelope form.
func (p emailKwargs) recipients() ([]string, error) {
	if p.To == "" {
		return nil, errors.New("email kwargs missing required field 'to'")
	}
	out := make([]string, 0, 1+len(p.Cc))
	for _, raw := range append([]string{p.To}, p.Cc...) {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid email address %q: %w", raw, err)
		}
		out = append(out, addr.Address)
	}
	return out, nil
}

func composeMessage(from string, p emailKwargs, taskID string, now time.Time) []byte {
	var b strings.Builder
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }

	header("From", from)
	header("To", p.To)
	if len(p.Cc) > 0 {
		header("Cc", strings.Join(p.Cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", p.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	if taskID != "" {
		header(TaskHeader, taskID)
	}
	b.WriteString("\r\n")
	b.WriteString(p.Body)
	return []byte(b.String())
}
