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

	"github.com/shopspring/decimal"
)

// Backend is what the reconciler needs from the gateway backend. Both
// *Service (in process) and *BackendClient (remote) implement it.
type Backend interface {
	CreateOrder(ctx context.Context, invoiceID string, amount decimal.Decimal) (GatewayOrder, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) error
}

// BackendClient calls a remote gateway backend over HTTP.
type BackendClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBackendClient constructs a client for baseURL.
func NewBackendClient(baseURL string, httpClient *http.Client) *BackendClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &BackendClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// CreateOrder implements Backend.
func (c *BackendClient) CreateOrder(ctx context.Context, invoiceID string, amount decimal.Decimal) (GatewayOrder, error) {
	var resp createOrderResponse
	status, err := c.post(ctx, "/create-order", CreateOrderRequest{InvoiceID: invoiceID, Amount: amount}, &resp)
	if err != nil {
		return GatewayOrder{}, err
	}
	if !resp.OK || resp.Order == nil {
		return GatewayOrder{}, fmt.Errorf("%w: create-order status %d: %s", ErrGateway, status, resp.Error)
	}
	return *resp.Order, nil
}

// VerifyPayment implements Backend.
func (c *BackendClient) VerifyPayment(ctx context.Context, req VerifyRequest) error {
	var resp verifyResponse
	status, err := c.post(ctx, "/verify-payment", req, &resp)
	if err != nil {
		return err
	}
	if resp.OK {
		return nil
	}
	if status == http.StatusBadRequest {
		return ErrSignatureMismatch
	}
	return fmt.Errorf("%w: verify-payment status %d: %s", ErrGateway, status, resp.Error)
}

func (c *BackendClient) post(ctx context.Context, path string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrGateway, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: status %d: decode: %v", ErrGateway, resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}
