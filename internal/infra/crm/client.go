// Package crm implementa o gateway HTTP para o CRM externo.
// O engine só conhece o contrato UpsertContact; o formato de fio do CRM
// concreto vive inteiro aqui.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/resilience"
)

var tracer = otel.Tracer("crm")

// Client calls the external CRM contact API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewClient creates a CRM client.
func NewClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
	}
}

// upsertRequest é o payload aceito pelo endpoint de contatos do CRM.
type upsertRequest struct {
	ExternalRef    string            `json:"external_ref,omitempty"`
	Name           string            `json:"name,omitempty"`
	Email          string            `json:"email,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Classification string            `json:"classification"`
	Score          int               `json:"score"`
	Fields         map[string]string `json:"fields,omitempty"`
	CustomFields   map[string]string `json:"custom_fields,omitempty"`
}

type upsertResponse struct {
	ContactRef string `json:"contact_ref"`
}

// UpsertContact creates or updates the contact and returns its opaque
// reference. Passing a non-empty ExternalRef updates the existing contact.
func (c *Client) UpsertContact(ctx context.Context, contact *domain.CRMContact) (string, error) {
	ctx, span := tracer.Start(ctx, "CRM.UpsertContact")
	defer span.End()
	span.SetAttributes(attribute.String("crm.classification", contact.Classification))

	var out upsertResponse

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := json.Marshal(upsertRequest{
				ExternalRef:    contact.ExternalRef,
				Name:           contact.Name,
				Email:          contact.Email,
				Phone:          contact.Phone,
				Classification: contact.Classification,
				Score:          contact.Score,
				Fields:         contact.Fields,
				CustomFields:   contact.CustomAnswers,
			})
			if err != nil {
				return err
			}

			url := fmt.Sprintf("%s/v1/contacts/upsert", c.baseURL)
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
				return fmt.Errorf("crm API returned status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(&out)
		})
	})

	if err != nil {
		return "", &domain.ErrExternalService{Service: "crm", Err: err}
	}

	return out.ContactRef, nil
}
