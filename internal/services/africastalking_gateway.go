package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/config"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AfricasTalkingGateway talks to the Africa's Talking SMS and mobile checkout APIs
type AfricasTalkingGateway struct {
	httpClient *http.Client
	username   string
	apiKey     string
	senderID   string
	smsURL     string
	paymentURL string
}

// NewAfricasTalkingGateway creates a gateway from configuration
func NewAfricasTalkingGateway(cfg *config.Config) *AfricasTalkingGateway {
	timeout := cfg.TransportTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AfricasTalkingGateway{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		username:   cfg.ATUsername,
		apiKey:     cfg.ATAPIKey,
		senderID:   cfg.ATSenderID,
		smsURL:     cfg.ATSMSURL,
		paymentURL: cfg.ATPaymentURL,
	}
}

type atSMSResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			StatusCode int    `json:"statusCode"`
			Number     string `json:"number"`
			Status     string `json:"status"`
			Cost       string `json:"cost"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

type atCheckoutRequest struct {
	Username     string            `json:"username"`
	ProductName  string            `json:"productName"`
	PhoneNumber  string            `json:"phoneNumber"`
	CurrencyCode string            `json:"currencyCode"`
	Amount       float64           `json:"amount"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type atCheckoutResponse struct {
	Status        string `json:"status"`
	Description   string `json:"description"`
	TransactionID string `json:"transactionId"`
}

// SendSMS sends one message
func (g *AfricasTalkingGateway) SendSMS(ctx context.Context, to, text string) (*SendResult, error) {
	form := url.Values{}
	form.Set("username", g.username)
	form.Set("to", "+"+strings.TrimPrefix(to, "+"))
	form.Set("message", text)
	if g.senderID != "" {
		form.Set("from", g.senderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.smsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp atSMSResponse
	if err := g.do(req, &resp); err != nil {
		return nil, err
	}

	recipients := resp.SMSMessageData.Recipients
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProviderRejected, resp.SMSMessageData.Message)
	}
	r := recipients[0]
	switch r.StatusCode {
	case 100, 101, 102:
		return &SendResult{MessageID: r.MessageID, Cost: r.Cost}, nil
	case 500, 501, 502:
		return nil, fmt.Errorf("%w: sms status %d %s", apperr.ErrTransientProvider, r.StatusCode, r.Status)
	default:
		return nil, fmt.Errorf("%w: sms status %d %s", ErrProviderRejected, r.StatusCode, r.Status)
	}
}

// InitiateCharge starts a mobile checkout. Success only means the charge was initiated.
func (g *AfricasTalkingGateway) InitiateCharge(ctx context.Context, charge ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(atCheckoutRequest{
		Username:     g.username,
		ProductName:  charge.ProductName,
		PhoneNumber:  "+" + strings.TrimPrefix(charge.PhoneNumber, "+"),
		CurrencyCode: charge.Currency,
		Amount:       charge.Amount,
		Metadata:     charge.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.paymentURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp atCheckoutResponse
	if err := g.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "PendingConfirmation" || resp.TransactionID == "" {
		return nil, fmt.Errorf("%w: checkout %s %s", ErrProviderRejected, resp.Status, resp.Description)
	}
	return &ChargeResult{TransactionID: resp.TransactionID, Status: resp.Status}, nil
}

// do sends req and decodes a JSON response. Timeouts, network errors and 5xx are transient.
func (g *AfricasTalkingGateway) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", apperr.ErrTransientProvider, err)
		}
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", apperr.ErrTransientProvider, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status code %d", apperr.ErrTransientProvider, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status code %d: %s", ErrProviderRejected, resp.StatusCode, truncate(string(data), 200))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
