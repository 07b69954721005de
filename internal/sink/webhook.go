package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const maxBackoff = 30 * time.Second

// Webhook posts deliveries as JSON to an HTTP endpoint
type Webhook struct {
	config     WebhookConfig
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency limit

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// WebhookConfig contains webhook client configuration
type WebhookConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	BackoffBase   time.Duration // first retry delay, doubled on every attempt
	OnRetry       func()
}

// WebhookStats represents client statistics
type WebhookStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewWebhook creates a webhook sink
func NewWebhook(config WebhookConfig) (*Webhook, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Webhook{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Name identifies the sink in logs and metrics
func (w *Webhook) Name() string {
	return "webhook"
}

// Deliver posts one delivery, retrying transient failures with exponential backoff
func (w *Webhook) Deliver(ctx context.Context, d *Delivery) error {
	select {
	case w.semaphore <- struct{}{}:
		defer func() { <-w.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	startTime := time.Now()
	w.incrementTotalRequests()

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			w.incrementTotalRetries()
			if w.config.OnRetry != nil {
				w.config.OnRetry()
			}

			select {
			case <-time.After(w.backoff(attempt)):
			case <-ctx.Done():
				w.incrementFailedRequests()
				return ctx.Err()
			}
		}

		attempts++
		err := w.doRequest(ctx, body)
		if err == nil {
			w.incrementSuccessRequests()
			w.updateAvgResponseTime(time.Since(startTime))
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	w.incrementFailedRequests()
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, lastErr)
}

// backoff returns the delay before the given retry attempt
func (w *Webhook) backoff(attempt int) time.Duration {
	d := w.config.BackoffBase
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// doRequest performs a single HTTP request
func (w *Webhook) doRequest(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if w.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}
	httpReq.Header.Set("User-Agent", "acoustic-modem/1.0")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return nil
}

// isRetryableError reports whether another attempt could succeed
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	// Every *url.Error is a net.Error, so only timeouts count here. An
	// unsupported scheme or a bad request is not worth another attempt.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection refused, resets, failed lookups and early hang-ups
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Statistics methods
func (w *Webhook) incrementTotalRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRequests++
}

func (w *Webhook) incrementSuccessRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successRequests++
}

func (w *Webhook) incrementFailedRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failedRequests++
}

func (w *Webhook) incrementTotalRetries() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRetries++
}

func (w *Webhook) updateAvgResponseTime(responseTime time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Simple moving average
	if w.avgResponseTime == 0 {
		w.avgResponseTime = responseTime
	} else {
		w.avgResponseTime = (w.avgResponseTime + responseTime) / 2
	}
}

// Stats returns current client statistics
func (w *Webhook) Stats() WebhookStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	successRate := float64(0)
	if w.totalRequests > 0 {
		successRate = float64(w.successRequests) / float64(w.totalRequests) * 100
	}

	return WebhookStats{
		TotalRequests:   w.totalRequests,
		SuccessRequests: w.successRequests,
		FailedRequests:  w.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    w.totalRetries,
		AvgResponseTime: w.avgResponseTime,
		ActiveRequests:  len(w.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (w *Webhook) Close() error {
	for i := 0; i < cap(w.semaphore); i++ {
		w.semaphore <- struct{}{}
	}
	w.httpClient.CloseIdleConnections()
	return nil
}
