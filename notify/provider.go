// Package notify delivers timesheet review emails through a pluggable
// provider, rendered in the recipient's locale.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Message is one outbound email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Provider sends a message.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Kind         string // log, noop, fail, webhook
	WebhookURL   string
	WebhookToken string
}

// NewProvider returns the provider named by cfg.Kind. An unknown kind, or
// webhook without a URL, falls back to logging.
func NewProvider(cfg ProviderConfig) Provider {
	switch strings.ToLower(cfg.Kind) {
	case "", "stub", "log":
		return LogProvider{}
	case "noop":
		return NoopProvider{}
	case "fail":
		return FailProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			log.Printf("[Notify] Webhook provider selected without URL, logging emails instead")
			return LogProvider{}
		}
		return NewWebhookProvider(cfg.WebhookURL, cfg.WebhookToken)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return NewWebhookProvider(cfg.Kind, cfg.WebhookToken)
		}
		return LogProvider{}
	}
}

type LogProvider struct{}

func (LogProvider) Send(_ context.Context, msg Message) error {
	log.Printf("[Notify] Email to %s: %s", msg.To, msg.Subject)
	return nil
}

type NoopProvider struct{}

func (NoopProvider) Send(context.Context, Message) error { return nil }

// FailProvider always fails. Useful to check that delivery failures do not
// affect the workflow.
type FailProvider struct{}

func (FailProvider) Send(context.Context, Message) error {
	return errors.New("provider failure")
}

// WebhookProvider POSTs the message as JSON to an HTTP endpoint.
type WebhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookProvider(url, token string) *WebhookProvider {
	return &WebhookProvider{url: url, token: token, client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *WebhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: %s", resp.Status)
	}
	return nil
}
