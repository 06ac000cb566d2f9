package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-call-later/internal/version"
)

// TaskHeader carries the task id on every outbound webhook request.
const TaskHeader = "X-Call-Later-Task"

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// webhookKwargs is the keyword contract of the webhook task type. Body and
// JSON are mutually exclusive.
type webhookKwargs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	JSON    json.RawMessage   `json:"json"`
}

// WebhookHandler calls an HTTP endpoint and fails on a 4xx or 5xx answer.
type WebhookHandler struct {
	client *http.Client
}

// NewWebhookHandler creates a WebhookHandler whose calls time out after timeout.
func NewWebhookHandler(timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookHandler{client: &http.Client{Timeout: timeout}}
}

func (h *WebhookHandler) TaskType() string { return "webhook" }

func (h *WebhookHandler) Signature() string {
	return "handlers.webhook(url, method, headers, body, json)"
}

func (h *WebhookHandler) Handle(ctx context.Context, call Call) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.webhook")
	defer span.End()

	req, err := newWebhookRequest(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid webhook call")
		return err
	}
	span.SetAttributes(
		attribute.String("http.url", req.URL.String()),
		attribute.String("http.method", req.Method),
	)

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("webhook %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("webhook %s %s returned %d: %s",
			req.Method, req.URL, resp.StatusCode, strings.TrimSpace(string(snippet)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func newWebhookRequest(ctx context.Context, call Call) (*http.Request, error) {
	var p webhookKwargs
	if err := BindKwargs(call, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, errors.New("webhook kwargs missing required field 'url'")
	}
	if p.Body != "" && len(p.JSON) > 0 {
		return nil, errors.New("webhook kwargs 'body' and 'json' are mutually exclusive")
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	switch {
	case len(p.JSON) > 0:
		body = bytes.NewReader(p.JSON)
	case p.Body != "":
		body = strings.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", "go-call-later/"+version.Version)
	req.Header.Set(TaskHeader, call.TaskID)
	if len(p.JSON) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
