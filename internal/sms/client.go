package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/util"
)

// Romanian carriers truncate concatenated messages inconsistently, so
// every template must fit a single SMS segment.
const maxMessageLength = 160

var (
	ErrMessageTooLong = errors.New("message exceeds single SMS segment")
	ErrSendFailed     = errors.New("sms gateway send failed")
)

// Client sends messages through an SMSLink-style HTTP gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	connID     string
	password   string
	sender     string
	maxRetries int
}

func NewClient(cfg *config.SMSConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:    cfg.BaseURL,
		connID:     cfg.ConnID,
		password:   cfg.Password,
		sender:     cfg.Sender,
		maxRetries: cfg.MaxRetries,
	}
}

// Enabled reports whether gateway credentials are configured. Without
// them Send logs the message instead of delivering it.
func (c *Client) Enabled() bool {
	return c.connID != "" && c.password != ""
}

// Send delivers a message to a canonical +40 number. Transient gateway
// failures are retried with exponential backoff before giving up.
func (c *Client) Send(ctx context.Context, phone, message string) error {
	if len(message) > maxMessageLength {
		return fmt.Errorf("%w: %d chars", ErrMessageTooLong, len(message))
	}

	if !c.Enabled() {
		util.Info("SMS gateway not configured, message not sent",
			zap.String("phone_suffix", phoneSuffix(phone)),
			zap.Int("length", len(message)))
		return nil
	}

	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = c.send(ctx, phone, message)
		if lastErr == nil {
			util.Info("SMS sent",
				zap.String("phone_suffix", phoneSuffix(phone)),
				zap.Int("attempt", attempt))
			return nil
		}

		util.Warn("SMS send attempt failed",
			zap.String("phone_suffix", phoneSuffix(phone)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

func (c *Client) send(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("connection_id", c.connID)
	form.Set("password", c.password)
	form.Set("to", phone)
	form.Set("message", message)
	if c.sender != "" {
		form.Set("sender", c.sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// SMSLink reports errors in the body with a 200 status.
	if strings.HasPrefix(strings.TrimSpace(string(body)), "ERROR") {
		return fmt.Errorf("gateway rejected message: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// phoneSuffix keeps logs free of full phone numbers.
func phoneSuffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return "***" + phone[len(phone)-4:]
}
