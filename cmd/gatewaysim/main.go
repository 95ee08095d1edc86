package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeliveryStatus represents the delivery status of a notification
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusQueued    DeliveryStatus = "QUEUED"
)

// SendNotificationRequest represents an outbound notification handed to the transport
type SendNotificationRequest struct {
	Reference string `json:"reference" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Subject   string `json:"subject"`
	Body      string `json:"body" binding:"required"`
}

// SendNotificationResponse represents the transport's answer
type SendNotificationResponse struct {
	Reference   string         `json:"reference"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_msg,omitempty"`
	TransportID string         `json:"transport_id"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// WebhookEmitRequest asks the simulator to fire a payment event at the engine
type WebhookEmitRequest struct {
	Event             string `json:"event" binding:"required"`
	PaymentID         string `json:"payment_id" binding:"required"`
	ExternalReference string `json:"external_reference"`
	Value             int64  `json:"value"`
	PaymentDate       string `json:"payment_date"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	TransportID  string    `json:"transport_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// MockGateway simulates a notification transport plus the payment
// gateway's webhook side.
type MockGateway struct {
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	transportID  string
	webhookURL   string
	httpClient   *http.Client
	rng          *rand.Rand
}

func NewMockGateway(deliveryRate float64, minDelay, maxDelay time.Duration, webhookURL string) *MockGateway {
	return &MockGateway{
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		transportID:  "MOCK_TRANSPORT_" + uuid.New().String()[:8],
		webhookURL:   webhookURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// simulateDelivery pretends to push a notification out the door
func (m *MockGateway) simulateDelivery(req *SendNotificationRequest) *SendNotificationResponse {
	delay := m.randomDelay()
	time.Sleep(delay)

	response := &SendNotificationResponse{
		Reference:   req.Reference,
		TransportID: m.transportID,
		ProcessedAt: time.Now(),
	}

	if m.shouldSucceed() {
		now := time.Now()
		response.Status = StatusDelivered
		response.DeliveredAt = &now

		log.Info().
			Str("reference", req.Reference).
			Str("recipient", req.Recipient).
			Dur("delay", delay).
			Msg("notification delivered")
	} else {
		response.Status = StatusFailed
		response.ErrorCode = m.randomErrorCode()
		response.ErrorMsg = m.errorMessage(response.ErrorCode)

		log.Warn().
			Str("reference", req.Reference).
			Str("recipient", req.Recipient).
			Str("error_code", response.ErrorCode).
			Msg("notification delivery failed")
	}

	return response
}

// emitWebhook posts a canonical payment event to the billing engine
func (m *MockGateway) emitWebhook(req *WebhookEmitRequest) error {
	if m.webhookURL == "" {
		return fmt.Errorf("no webhook url configured, set ENGINE_WEBHOOK_URL")
	}

	paymentDate := req.PaymentDate
	if paymentDate == "" {
		paymentDate = time.Now().UTC().Format("2006-01-02")
	}

	payload := map[string]interface{}{
		"event": req.Event,
		"payment": map[string]interface{}{
			"id":                req.PaymentID,
			"externalReference": req.ExternalReference,
			"value":             float64(req.Value) / 100,
			"paymentDate":       paymentDate,
			"dateCreated":       time.Now().UTC().Format("2006-01-02"),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := m.httpClient.Post(m.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Info().
		Str("event", req.Event).
		Str("payment_id", req.PaymentID).
		Int("status", resp.StatusCode).
		Msg("webhook emitted")
	return nil
}

func (m *MockGateway) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	randomDelta := time.Duration(m.rng.Int63n(int64(delta)))
	return m.minDelay + randomDelta
}

func (m *MockGateway) shouldSucceed() bool {
	return m.rng.Float64() < m.deliveryRate
}

func (m *MockGateway) randomErrorCode() string {
	errorCodes := []string{
		"INVALID_RECIPIENT",
		"NETWORK_ERROR",
		"TIMEOUT",
		"BLOCKED",
		"TRANSPORT_REJECTED",
	}
	return errorCodes[m.rng.Intn(len(errorCodes))]
}

func (m *MockGateway) errorMessage(code string) string {
	messages := map[string]string{
		"INVALID_RECIPIENT":  "The recipient address is invalid or unreachable",
		"NETWORK_ERROR":      "Network connectivity issue with transport",
		"TIMEOUT":            "Notification delivery timed out",
		"BLOCKED":            "The recipient has blocked notifications",
		"TRANSPORT_REJECTED": "Transport rejected the notification",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Unknown error occurred"
}

// Handler struct holds the mock gateway and routes
type Handler struct {
	gateway *MockGateway
}

func NewHandler(gateway *MockGateway) *Handler {
	return &Handler{gateway: gateway}
}

// SendNotification handles outbound notification requests
func (h *Handler) SendNotification(c *gin.Context) {
	var req SendNotificationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("reference", req.Reference).
		Str("recipient", req.Recipient).
		Msg("received notification send request")

	response := h.gateway.simulateDelivery(&req)

	statusCode := http.StatusOK
	if response.Status == StatusFailed {
		statusCode = http.StatusBadGateway
	}

	c.JSON(statusCode, response)
}

// EmitWebhook handles manual payment-event injection
func (h *Handler) EmitWebhook(c *gin.Context) {
	var req WebhookEmitRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if err := h.gateway.emitWebhook(&req); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Webhook emitted",
		"event":      req.Event,
		"payment_id": req.PaymentID,
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	// Simulate 5% downtime
	if h.gateway.rng.Float64() < 0.05 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "Transport temporarily unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		TransportID:  h.gateway.transportID,
		Timestamp:    time.Now(),
		DeliveryRate: h.gateway.deliveryRate,
	})
}

// UpdateConfig allows changing gateway configuration at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.DeliveryRate != nil {
		if *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
			h.gateway.deliveryRate = *config.DeliveryRate
			log.Info().Float64("rate", *config.DeliveryRate).Msg("Updated delivery rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Configuration updated",
		"delivery_rate": h.gateway.deliveryRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/notifications/send", handler.SendNotification)
		v1.POST("/simulate/webhook", handler.EmitWebhook)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 100*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 2*time.Second)
	webhookURL := getEnv("ENGINE_WEBHOOK_URL", "")

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock payment gateway")

	gw := NewMockGateway(deliveryRate, minDelay, maxDelay, webhookURL)
	handler := NewHandler(gw)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
