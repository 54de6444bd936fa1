package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaysms/contact-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

var ErrCarrier = errors.New("carrier request failed")

type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusPending   DeliveryStatus = "PENDING"
)

// Client is the opaque SMS provider boundary. Implementations own
// their timeout behavior; the dispatcher adds nothing on top.
type Client interface {
	CreateMessage(ctx context.Context, body, from, to string) (*Receipt, error)
}

// Receipt is the provider's acknowledgement of one accepted message.
type Receipt struct {
	SID         string         `json:"sid"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
}

type sendRequest struct {
	PhoneNumber string `json:"phone_number"`
	FromNumber  string `json:"from_number"`
	Content     string `json:"content"`
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

// HTTPClient talks to the carrier's REST API over fasthttp.
type HTTPClient struct {
	config *Config
	client *fasthttp.Client
}

func NewHTTPClient(config *Config) (*HTTPClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("carrier base url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxConns == 0 {
		config.MaxConns = 512
	}

	c := &HTTPClient{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		},
	}

	logger.Info("carrier client initialized", "base_url", config.BaseURL, "timeout", config.Timeout)
	return c, nil
}

func (c *HTTPClient) CreateMessage(ctx context.Context, body, from, to string) (*Receipt, error) {
	reqBody, err := json.Marshal(sendRequest{
		PhoneNumber: to,
		FromNumber:  from,
		Content:     body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	response, err := c.doRequest(ctx, "POST", "/api/v1/sms/send", reqBody)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("carrier send failed", "to", to, "latency_ms", latency, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCarrier, err)
	}

	var receipt Receipt
	if err := json.Unmarshal(response, &receipt); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrCarrier, err)
	}

	logger.Info("sms handed to carrier", "sid", receipt.SID, "status", string(receipt.Status), "latency_ms", latency)
	return &receipt, nil
}

// Health checks the carrier's health endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	response, err := c.doRequest(ctx, "GET", "/health", nil)
	if err != nil {
		return err
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &health); err != nil {
		return err
	}
	if health.Status != "healthy" {
		return fmt.Errorf("%w: carrier reports %q", ErrCarrier, health.Status)
	}
	return nil
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
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
