// Package sms implementa o gateway de envio de SMS usado para alertar a
// equipe sobre leads recém qualificados.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/resilience"
)

var tracer = otel.Tracer("sms")

// Client calls the SMS gateway HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewClient creates an SMS client.
func NewClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Send delivers a text message. The error only clears after the gateway
// confirms delivery acceptance, so callers can gate one-shot flags on it.
func (c *Client) Send(ctx context.Context, to, message string) error {
	ctx, span := tracer.Start(ctx, "SMS.Send")
	defer span.End()

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := json.Marshal(sendRequest{To: to, Message: message})
			if err != nil {
				return err
			}

			url := fmt.Sprintf("%s/v1/messages", c.baseURL)
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
			}
			return nil
		})
	})

	if err != nil {
		return &domain.ErrExternalService{Service: "sms", Err: err}
	}
	return nil
}
