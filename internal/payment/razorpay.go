package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultRazorpayURL is the public API base.
const DefaultRazorpayURL = "https://api.razorpay.com"

// RazorpayOrder is the subset of the Orders API response the backend uses.
// Amount is in paise.
type RazorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// RazorpayClient calls the Orders API with basic auth.
type RazorpayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// NewRazorpayClient constructs a client. An empty baseURL uses the public API.
func NewRazorpayClient(baseURL, keyID, keySecret string, httpClient *http.Client) *RazorpayClient {
	if baseURL == "" {
		baseURL = DefaultRazorpayURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RazorpayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: httpClient,
	}
}

// CreateOrder registers a checkout order for amountPaise.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amountPaise int64, receipt string) (RazorpayOrder, error) {
	payload, err := json.Marshal(map[string]any{
		"amount":   amountPaise,
		"currency": Currency,
		"receipt":  receipt,
	})
	if err != nil {
		return RazorpayOrder{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return RazorpayOrder{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RazorpayOrder{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RazorpayOrder{}, fmt.Errorf("%w: read body: %v", ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RazorpayOrder{}, fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var order RazorpayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return RazorpayOrder{}, fmt.Errorf("%w: decode: %v", ErrGateway, err)
	}
	return order, nil
}
