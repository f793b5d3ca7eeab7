package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ============================================================
// HTTP helpers for POST, PATCH, DELETE and upsert
// ============================================================

func (c *Client) doPost(ctx context.Context, table string, data map[string]any) ([]byte, error) {
	return c.doWrite(ctx, table, data, "return=representation")
}

// doUpsert insere-ou-mescla no alvo de conflito da tabela. O caller
// passa a coluna on_conflict no path da tabela.
func (c *Client) doUpsert(ctx context.Context, table string, data map[string]any) ([]byte, error) {
	return c.doWrite(ctx, table, data, "return=representation,resolution=merge-duplicates")
}

func (c *Client) doWrite(ctx context.Context, table string, data map[string]any, prefer string) ([]byte, error) {
	return c.send(ctx, http.MethodPost, table, data, prefer)
}

func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) error {
	_, err := c.send(ctx, http.MethodPatch, path, data, "return=minimal")
	return err
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, err := c.send(ctx, http.MethodDelete, path, nil, "")
	return err
}

// send é o caminho comum das escritas PostgREST: serializa o body,
// autentica, executa e converte não-2xx em erro com o corpo da resposta
// (o texto carrega o SQLSTATE que isUniqueViolation inspeciona).
func (c *Client) send(ctx context.Context, method, path string, data map[string]any, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var reader io.Reader
	if data != nil {
		jsonBody, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: write failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: write non-2xx",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("supabase %s %s returned %d: %s", method, path, resp.StatusCode, string(body))
	}

	return body, nil
}

// isUniqueViolation detecta violação de constraint de unicidade num
// erro PostgREST (HTTP 409, SQLSTATE 23505). É o sinal que os stores
// traduzem para domain.ErrDuplicate.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "returned 409")
}

// parseTime decodifica timestamptz do Supabase (RFC 3339 com ou sem
// fração de segundos).
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02T15:04:05.999999", s)
	}
	return t
}
