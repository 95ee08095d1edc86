package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableTransports = errors.New("no available transports")
)

type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusQueued    DeliveryStatus = "QUEUED"
)

// DispatchRequest is one outbound notification handed to a transport.
// The transport decides how to interpret the recipient (phone for
// whatsapp, address for email).
type DispatchRequest struct {
	Reference string `json:"reference"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

type Delivery struct {
	Reference   string         `json:"reference"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	TransportID string         `json:"transport_id"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// TransportMetrics tracks per-transport health counters. All hot-path
// fields are atomics; the latency window behind the mutex only feeds
// the stats endpoint.
type TransportMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu            sync.RWMutex
	latencyWindow []int64
	maxWindowSize int
}

func NewTransportMetrics() *TransportMetrics {
	return &TransportMetrics{
		latencyWindow: make([]int64, 0, 100),
		maxWindowSize: 100,
	}
}

func (m *TransportMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencyWindow) >= m.maxWindowSize {
		m.latencyWindow = m.latencyWindow[1:]
	}
	m.latencyWindow = append(m.latencyWindow, latencyMs)
	m.mu.Unlock()
}

func (m *TransportMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *TransportMetrics) AvgLatencyMs() int64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

func (m *TransportMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *TransportMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencyWindow) == 0 {
		return 0
	}

	sorted := make([]int64, len(m.latencyWindow))
	copy(sorted, m.latencyWindow)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type TransportState int

const (
	StateHealthy TransportState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

// Transport is one outbound channel endpoint (whatsapp bridge, email
// relay). The engine does not care which medium it speaks; it only
// needs the send capability.
type Transport struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *TransportMetrics
	state            atomic.Int32
	weight           atomic.Int32
	lastHealthCheck  atomic.Int64
	circuitOpenUntil atomic.Int64
}

func NewTransport(name, url string, weight int, client *fasthttp.Client) *Transport {
	t := &Transport{
		name:    name,
		url:     url,
		client:  client,
		metrics: NewTransportMetrics(),
	}
	t.state.Store(int32(StateHealthy))
	t.weight.Store(int32(weight))
	return t
}

func (t *Transport) GetState() TransportState {
	return TransportState(t.state.Load())
}

func (t *Transport) SetState(state TransportState) {
	t.state.Store(int32(state))
}

func (t *Transport) IsAvailable() bool {
	state := t.GetState()
	if state == StateCircuitOpen {
		if time.Now().Unix() > t.circuitOpenUntil.Load() {
			t.SetState(StateDegraded)
			return true
		}
		return false
	}
	return state != StateUnhealthy
}

// CalculateScore ranks transports for selection; higher is better.
// Success rate and latency dominate, the configured weight breaks
// ties, recent consecutive failures pull the score down fast.
func (t *Transport) CalculateScore() float64 {
	if !t.IsAvailable() {
		return 0.0
	}

	successScore := t.metrics.SuccessRate() * 100

	latencyScore := 100.0
	if avg := t.metrics.AvgLatencyMs(); avg > 0 {
		latencyScore = 100.0 * (1.0 - (float64(avg) / 5000.0))
		if latencyScore < 0 {
			latencyScore = 0
		}
	}

	recentPenalty := 1.0 - (float64(t.metrics.ConsecutiveFails.Load()) * 0.1)
	if recentPenalty < 0.1 {
		recentPenalty = 0.1
	}

	statePenalty := 1.0
	switch t.GetState() {
	case StateDegraded:
		statePenalty = 0.5
	case StateUnhealthy, StateCircuitOpen:
		statePenalty = 0.0
	}

	return (successScore*0.4 + latencyScore*0.4 + float64(t.weight.Load())*0.2) * recentPenalty * statePenalty
}

type Config struct {
	Transports              []TransportConfig
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type TransportConfig struct {
	Name   string
	URL    string
	Weight int // base priority, 1-100
}

// Client fans notification sends out across the configured transports,
// always picking the best-scoring available one and failing over on
// error.
type Client struct {
	config     *Config
	transports []*Transport
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Transports) == 0 {
		return nil, errors.New("at least one transport is required")
	}

	client := &Client{
		config:     config,
		transports: make([]*Transport, 0, len(config.Transports)),
		stopCh:     make(chan struct{}),
	}

	for _, tc := range config.Transports {
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		}
		client.transports = append(client.transports, NewTransport(tc.Name, tc.URL, tc.Weight, httpClient))
		logger.Info("Transport initialized", "name", tc.Name, "url", tc.URL, "weight", tc.Weight)
	}

	client.wg.Add(1)
	go client.healthChecker()

	logger.Info("Notification transport client initialized", "transports", len(client.transports), "timeout", config.Timeout)
	return client, nil
}

// SelectBestTransport picks the highest-scoring available transport.
func (c *Client) SelectBestTransport() (*Transport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Transport
	var bestScore float64
	for _, t := range c.transports {
		if !t.IsAvailable() {
			continue
		}
		if score := t.CalculateScore(); score > bestScore {
			bestScore = score
			best = t
		}
	}

	if best == nil {
		return nil, ErrNoAvailableTransports
	}
	return best, nil
}

// Dispatch sends one notification, failing over between transports on
// error with a bounded retry budget.
func (c *Client) Dispatch(ctx context.Context, req *DispatchRequest) (*Delivery, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		transport, err := c.SelectBestTransport()
		if err != nil {
			lastErr = err
			continue
		}

		startTime := time.Now()
		response, err := c.doRequest(ctx, transport, "POST", "/api/v1/notifications/send", reqBody)
		latency := time.Since(startTime).Milliseconds()

		if err != nil {
			transport.metrics.RecordFailure()
			c.checkCircuitBreaker(transport)
			logger.Warn("Dispatch failed, retrying", "error", err, "transport", transport.name, "attempt", attempt+1)
			lastErr = err
			continue
		}

		transport.metrics.RecordSuccess(latency)

		var delivery Delivery
		if err := json.Unmarshal(response, &delivery); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		logger.Info("Notification dispatched",
			"reference", req.Reference, "status", string(delivery.Status),
			"transport", transport.name, "latency_ms", latency)
		return &delivery, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) doRequest(ctx context.Context, transport *Transport, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(transport.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := transport.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

func (c *Client) checkCircuitBreaker(transport *Transport) {
	fails := transport.metrics.ConsecutiveFails.Load()
	if fails >= int32(c.config.CircuitBreakerThreshold) {
		transport.SetState(StateCircuitOpen)
		transport.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).Unix())
		logger.Warn("Circuit breaker opened", "transport", transport.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	c.mu.RLock()
	transports := make([]*Transport, len(c.transports))
	copy(transports, c.transports)
	c.mu.RUnlock()

	for _, transport := range transports {
		healthy := c.checkTransportHealth(ctx, transport)
		transport.lastHealthCheck.Store(time.Now().Unix())

		oldState := transport.GetState()
		newState := oldState
		if healthy {
			if oldState == StateUnhealthy || oldState == StateDegraded {
				newState = StateHealthy
			}
		} else if oldState != StateCircuitOpen {
			newState = StateUnhealthy
		}

		if newState != oldState {
			transport.SetState(newState)
			logger.Info("Transport state changed", "transport", transport.name,
				"old_state", stateString(oldState), "new_state", stateString(newState))
		}
	}
}

func (c *Client) checkTransportHealth(ctx context.Context, transport *Transport) bool {
	response, err := c.doRequest(ctx, transport, "GET", "/health", nil)
	if err != nil {
		return false
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

// GetTransportStats returns per-transport statistics for the ops
// endpoints, best first.
func (c *Client) GetTransportStats() []TransportStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]TransportStats, 0, len(c.transports))
	for _, t := range c.transports {
		stats = append(stats, TransportStats{
			Name:             t.name,
			URL:              t.url,
			State:            stateString(t.GetState()),
			Score:            t.CalculateScore(),
			TotalRequests:    t.metrics.TotalRequests.Load(),
			SuccessfulReqs:   t.metrics.SuccessfulReqs.Load(),
			FailedReqs:       t.metrics.FailedReqs.Load(),
			SuccessRate:      t.metrics.SuccessRate(),
			AvgLatencyMs:     t.metrics.AvgLatencyMs(),
			P95LatencyMs:     t.metrics.P95LatencyMs(),
			LastLatencyMs:    t.metrics.LastLatencyMs.Load(),
			ConsecutiveFails: t.metrics.ConsecutiveFails.Load(),
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Score > stats[j].Score
	})
	return stats
}

func (c *Client) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	logger.Info("Notification transport client closed")
	return nil
}

type TransportStats struct {
	Name             string
	URL              string
	State            string
	Score            float64
	TotalRequests    int64
	SuccessfulReqs   int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	P95LatencyMs     int64
	LastLatencyMs    int64
	ConsecutiveFails int32
}

func stateString(state TransportState) string {
	switch state {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}
