package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type Provider interface {
	Send(ctx context.Context, event Event) error
}

func newProvider(kind string, channel string) Provider {
	switch kind {
	case "", "stub", "log":
		return logProvider{channel: channel}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		url := os.Getenv("NOTIFY_" + strings.ToUpper(channel) + "_WEBHOOK_URL")
		token := os.Getenv("NOTIFY_" + strings.ToUpper(channel) + "_WEBHOOK_TOKEN")
		if url == "" {
			return logProvider{channel: channel}
		}
		return webhookProvider{url: url, token: token}
	case "amqp":
		url := os.Getenv("NOTIFY_AMQP_URL")
		exchange := os.Getenv("NOTIFY_AMQP_EXCHANGE")
		if exchange == "" {
			exchange = "clinicq.notifications"
		}
		provider, err := NewAMQPProvider(url, exchange)
		if err != nil {
			log.Printf("notify amqp dial error, falling back to log provider: %v", err)
			return logProvider{channel: channel}
		}
		return provider
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{url: kind}
		}
		return logProvider{channel: channel}
	}
}

type logProvider struct {
	channel string
}

func (p logProvider) Send(ctx context.Context, event Event) error {
	log.Printf("notify %s via %s to %s: %s", event.Type, p.channel, event.Recipient, event.Body)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, event Event) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, event Event) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url   string
	token string
}

func (p webhookProvider) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
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
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
