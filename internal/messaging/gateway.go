package messaging

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

	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/config"
)

var (
	ErrInvalidPhone  = errors.New("invalid phone number for whatsapp delivery")
	ErrNotConfigured = errors.New("whatsapp gateway not configured")
)

// Credentials identify the WhatsApp instance used for a given send. Empty
// fields fall back to the gateway's configured defaults.
type Credentials struct {
	InstanceName string
	APIKey       string
}

type SendResult struct {
	MessageID string
	Attempts  int
}

// Gateway talks to an Evolution-compatible WhatsApp HTTP API:
// POST {base}/message/sendText/{instance} with an apikey header.
type Gateway struct {
	client          *http.Client
	baseURL         string
	defaultAPIKey   string
	defaultInstance string
	retries         int
	policy          config.DeliveryPolicy
	logger          *zap.Logger
}

func NewGateway(cfg config.Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		client:          &http.Client{Timeout: cfg.GatewayTimeout},
		baseURL:         strings.TrimRight(cfg.GatewayURL, "/"),
		defaultAPIKey:   cfg.GatewayAPIKey,
		defaultInstance: cfg.GatewayInstance,
		retries:         cfg.GatewayRetries,
		policy:          cfg.DeliveryPolicy,
		logger:          logger,
	}
}

// NormalizePhone strips non-digits and ensures the Brazilian country code:
// 10-11 digit numbers get a "55" prefix, anything shorter than 12 digits
// after that is rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 || len(digits) == 11 {
		digits = "55" + digits
	}
	if len(digits) < 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return digits, nil
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// Send pushes a text message, retrying transient failures with linear
// backoff (300ms * attempt). Returns the gateway message id when available.
func (g *Gateway) Send(ctx context.Context, phoneNumber, text string, creds Credentials) (*SendResult, error) {
	if g.baseURL == "" {
		return nil, ErrNotConfigured
	}

	instance := creds.InstanceName
	if instance == "" {
		instance = g.defaultInstance
	}
	apiKey := creds.APIKey
	if apiKey == "" {
		apiKey = g.defaultAPIKey
	}
	if instance == "" {
		return nil, fmt.Errorf("%w: missing instance name", ErrNotConfigured)
	}

	number, err := NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/message/sendText/%s", g.baseURL, instance)
	attempts := g.retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 300 * time.Millisecond):
			}
		}

		result, err := g.doSend(ctx, url, apiKey, body)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		lastErr = err
		g.logger.Warn("whatsapp send attempt failed",
			zap.Int("attempt", attempt),
			zap.String("instance", instance),
			zap.Error(err))
	}

	return nil, fmt.Errorf("send after %d attempts: %w", attempts, lastErr)
}

func (g *Gateway) doSend(ctx context.Context, url, apiKey string, body []byte) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed sendTextResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		// Delivery succeeded; a missing message id is not worth failing over.
		return &SendResult{}, nil
	}
	return &SendResult{MessageID: parsed.Key.ID}, nil
}

// Deliver applies the configured delivery policy: under "fail" a send error
// propagates; under "warn" it is logged and reported as delivered=false.
func (g *Gateway) Deliver(ctx context.Context, phoneNumber, text string, creds Credentials) (bool, error) {
	_, err := g.Send(ctx, phoneNumber, text, creds)
	if err == nil {
		return true, nil
	}
	if g.policy == config.DeliveryFail {
		return false, err
	}
	g.logger.Warn("whatsapp delivery failed, continuing per delivery policy",
		zap.String("phone_number", phoneNumber),
		zap.Error(err))
	return false, nil
}
