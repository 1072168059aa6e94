package tally

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds every call to Tally.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 8 << 20

// ClientConfig configures the Tally transport.
type ClientConfig struct {
	ImportURL  string
	QueryURL   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client posts XML documents to the Tally gateway. It never retries: Tally
// imports are not idempotent and a blind retry can duplicate a voucher.
type Client struct {
	importURL  string
	queryURL   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queryURL := cfg.QueryURL
	if queryURL == "" {
		queryURL = cfg.ImportURL
	}
	return &Client{
		importURL:  cfg.ImportURL,
		queryURL:   queryURL,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "tally")),
	}
}

// Import submits an import document and interprets the acknowledgement.
// Caller cancellation is ignored once the request is issued; only the client
// deadline aborts it, so a voucher is never left with no recorded outcome.
func (c *Client) Import(ctx context.Context, company Company, token, body string) Outcome {
	resp, err := c.post(context.WithoutCancel(ctx), c.importURL, company, token, body)
	if err != nil {
		return outcomeFromError(err)
	}
	out := ParseSubmissionResponse(resp)
	if out.Kind == OutcomeTransportError {
		c.logger.Warn("unreadable import response", slog.String("company", company.GUID), slog.Int("bytes", len(resp)))
	}
	return out
}

// Query posts an export request and returns the raw response body.
func (c *Client) Query(ctx context.Context, company Company, token, body string) (string, error) {
	return c.post(ctx, c.queryURL, company, token, body)
}

func outcomeFromError(err error) Outcome {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrTimeout):
		return TimedOut(err)
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusForbidden {
			return TransportFailure(TransportAuthRevoked, statusErr.StatusCode, err)
		}
		return TransportFailure(TransportHTTPStatus, statusErr.StatusCode, err)
	default:
		return TransportFailure(TransportNetwork, 0, err)
	}
}

func (c *Client) post(ctx context.Context, url string, company Company, token, body string) (string, error) {
	if url == "" {
		return "", errors.New("tally: endpoint not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("x-tallyloc-id", company.LocationID)
	req.Header.Set("x-company", company.Name)
	req.Header.Set("x-guid", company.GUID)
	req.Header.Set("x-request-id", requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logger := c.logger.With(slog.String("request_id", requestID), slog.String("company", company.GUID))
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("tally request timed out", slog.Duration("elapsed", time.Since(start)))
			return "", fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		logger.Warn("tally request failed", slog.Any("error", err))
		return "", fmt.Errorf("tally: post: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		logger.Warn("tally returned error status", slog.Int("status", resp.StatusCode))
		return "", &StatusError{StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w while reading body", ErrTimeout)
		}
		return "", fmt.Errorf("tally: read body: %w", err)
	}
	logger.Debug("tally request done", slog.Int("status", resp.StatusCode), slog.Duration("elapsed", time.Since(start)))
	return string(data), nil
}
