package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vilaverde/lead-engine-go/internal/domain"
)

// ============================================================
// Knowledge store — faqs + knowledge_base tables
// ============================================================

type faqRow struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Category  string `json:"category"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type articleRow struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at"`
}

// SearchFAQs searches active FAQs by question/answer text. An empty
// query returns the most recent entries.
func (c *Client) SearchFAQs(ctx context.Context, query string, limit int) ([]domain.FAQ, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SearchFAQs")
	defer span.End()

	path := fmt.Sprintf("faqs?active=eq.true&order=created_at.desc&limit=%d", limit)
	if query != "" {
		pattern := url.QueryEscape("*" + query + "*")
		path = fmt.Sprintf("faqs?active=eq.true&or=(question.ilike.%s,answer.ilike.%s)&limit=%d", pattern, pattern, limit)
	}

	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/faqs", Err: err}
	}

	var rows []faqRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode faqs: %w", err)
		}
	}

	faqs := make([]domain.FAQ, 0, len(rows))
	for _, r := range rows {
		faqs = append(faqs, domain.FAQ{
			ID:        r.ID,
			Question:  r.Question,
			Answer:    r.Answer,
			Category:  r.Category,
			Active:    r.Active,
			CreatedAt: parseTime(r.CreatedAt),
		})
	}
	return faqs, nil
}

// SearchArticles searches active knowledge base articles by title and
// content. An empty query returns the most recent entries.
func (c *Client) SearchArticles(ctx context.Context, query string, limit int) ([]domain.KnowledgeArticle, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SearchArticles")
	defer span.End()

	path := fmt.Sprintf("knowledge_base?active=eq.true&order=created_at.desc&limit=%d", limit)
	if query != "" {
		pattern := url.QueryEscape("*" + query + "*")
		path = fmt.Sprintf("knowledge_base?active=eq.true&or=(title.ilike.%s,content.ilike.%s)&limit=%d", pattern, pattern, limit)
	}

	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/knowledge_base", Err: err}
	}

	var rows []articleRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode knowledge_base: %w", err)
		}
	}

	articles := make([]domain.KnowledgeArticle, 0, len(rows))
	for _, r := range rows {
		articles = append(articles, domain.KnowledgeArticle{
			ID:        r.ID,
			Title:     r.Title,
			Content:   r.Content,
			Tags:      r.Tags,
			Active:    r.Active,
			CreatedAt: parseTime(r.CreatedAt),
		})
	}
	return articles, nil
}
