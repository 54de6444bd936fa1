package main

import (
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeliveryStatus mirrors the gateway's carrier status vocabulary.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusPending   DeliveryStatus = "PENDING"
)

// SendSMSRequest is the wire shape the gateway's carrier client posts.
type SendSMSRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	FromNumber  string `json:"from_number" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

// Receipt is the acknowledgement returned for each accepted message.
type Receipt struct {
	SID         string         `json:"sid"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status       string    `json:"status"`
	CarrierID    string    `json:"carrier_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// MockCarrier simulates an SMS carrier with a configurable delivery
// rate and latency window.
type MockCarrier struct {
	mu           sync.Mutex
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	carrierID    string
	rng          *rand.Rand
}

func NewMockCarrier(deliveryRate float64, minDelay, maxDelay time.Duration) *MockCarrier {
	return &MockCarrier{
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		carrierID:    "MOCK_CARRIER_" + uuid.New().String()[:8],
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockCarrier) simulateDelivery(req *SendSMSRequest) *Receipt {
	time.Sleep(m.randomDelay())

	receipt := &Receipt{
		SID: "SIM" + uuid.New().String(),
	}

	if m.shouldSucceed() {
		now := time.Now()
		receipt.Status = StatusDelivered
		receipt.DeliveredAt = &now

		log.Info().
			Str("sid", receipt.SID).
			Str("phone", req.PhoneNumber).
			Msg("SMS delivered")
		return receipt
	}

	receipt.Status = StatusFailed
	receipt.ErrorCode = m.randomErrorCode()
	receipt.ErrorMsg = errorMessage(receipt.ErrorCode)

	log.Warn().
		Str("sid", receipt.SID).
		Str("phone", req.PhoneNumber).
		Str("error_code", receipt.ErrorCode).
		Msg("SMS delivery failed")
	return receipt
}

func (m *MockCarrier) randomDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockCarrier) shouldSucceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.deliveryRate
}

func (m *MockCarrier) randomErrorCode() string {
	codes := []string{
		"INVALID_NUMBER",
		"NETWORK_ERROR",
		"TIMEOUT",
		"BLOCKED",
		"CARRIER_REJECTED",
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return codes[m.rng.Intn(len(codes))]
}

func errorMessage(code string) string {
	messages := map[string]string{
		"INVALID_NUMBER":   "The phone number is invalid or not in service",
		"NETWORK_ERROR":    "Network connectivity issue with carrier",
		"TIMEOUT":          "SMS delivery timed out",
		"BLOCKED":          "The recipient has blocked messages",
		"CARRIER_REJECTED": "Carrier rejected the message",
	}
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Unknown error occurred"
}

type Handler struct {
	carrier *MockCarrier
}

func NewHandler(carrier *MockCarrier) *Handler {
	return &Handler{carrier: carrier}
}

func (h *Handler) SendSMS(c *gin.Context) {
	var req SendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	receipt := h.carrier.simulateDelivery(&req)

	statusCode := http.StatusOK
	if receipt.Status == StatusFailed {
		statusCode = http.StatusAccepted // accepted but failed delivery
	}
	c.JSON(statusCode, receipt)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		CarrierID:    h.carrier.carrierID,
		Timestamp:    time.Now(),
		DeliveryRate: h.carrier.deliveryRate,
	})
}

// UpdateConfig changes the delivery rate at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var cfg struct {
		DeliveryRate *float64 `json:"delivery_rate"`
	}
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if cfg.DeliveryRate != nil && *cfg.DeliveryRate >= 0 && *cfg.DeliveryRate <= 1.0 {
		h.carrier.mu.Lock()
		h.carrier.deliveryRate = *cfg.DeliveryRate
		h.carrier.mu.Unlock()
		log.Info().Float64("rate", *cfg.DeliveryRate).Msg("Updated delivery rate")
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Configuration updated",
		"delivery_rate": h.carrier.deliveryRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sms/send", handler.SendSMS)
		v1.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 0.95)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock SMS carrier")

	carrier := NewMockCarrier(deliveryRate, minDelay, maxDelay)
	router := SetupRouter(NewHandler(carrier))

	if err := router.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
