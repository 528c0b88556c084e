package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

const (
	tavilyEndpoint = "https://api.tavily.com/search"
	serperEndpoint = "https://google.serper.dev/search"

	defaultSearchResults = 5
	defaultSearchDepth   = "basic"
)

// tavilySearcher implements WebSearcher on the Tavily API. Tavily already
// returns [0,1] relevance scores, so they pass through clamped.
type tavilySearcher struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewTavilySearcher creates a Tavily-backed WebSearcher.
func NewTavilySearcher(apiKey string, timeout time.Duration) services.WebSearcher {
	return &tavilySearcher{
		apiKey:   apiKey,
		endpoint: tavilyEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *tavilySearcher) Name() string { return "tavily" }

func (t *tavilySearcher) Search(ctx context.Context, query string, opts services.WebSearchOptions) ([]models.WebResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	depth := opts.SearchDepth
	if depth == "" {
		depth = defaultSearchDepth
	}

	payload := map[string]interface{}{
		"api_key":      t.apiKey,
		"query":        query,
		"max_results":  maxResults,
		"search_depth": depth,
	}
	if len(opts.IncludeDomains) > 0 {
		payload["include_domains"] = opts.IncludeDomains
	}
	if len(opts.ExcludeDomains) > 0 {
		payload["exclude_domains"] = opts.ExcludeDomains
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Content       string  `json:"content"`
			RawContent    string  `json:"raw_content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"published_date"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode tavily response: %w", err)
	}

	results := make([]models.WebResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, models.WebResult{
			Title:         r.Title,
			URL:           r.URL,
			Snippet:       r.Content,
			RawContent:    r.RawContent,
			Score:         clamp01(r.Score),
			PublishedDate: r.PublishedDate,
			Provider:      t.Name(),
		})
	}
	return results, nil
}

// serperSearcher implements WebSearcher on the Serper API. Serper only
// reports rank positions, so scores are derived as 1/(1+position).
type serperSearcher struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSerperSearcher creates a Serper-backed WebSearcher.
func NewSerperSearcher(apiKey string, timeout time.Duration) services.WebSearcher {
	return &serperSearcher{
		apiKey:   apiKey,
		endpoint: serperEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *serperSearcher) Name() string { return "serper" }

func (s *serperSearcher) Search(ctx context.Context, query string, opts services.WebSearchOptions) ([]models.WebResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	body, err := json.Marshal(map[string]interface{}{
		"q":   serperQuery(query, opts),
		"num": maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal serper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build serper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Organic []struct {
			Title    string `json:"title"`
			Link     string `json:"link"`
			Snippet  string `json:"snippet"`
			Date     string `json:"date"`
			Position int    `json:"position"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode serper response: %w", err)
	}

	results := make([]models.WebResult, 0, len(parsed.Organic))
	for i, r := range parsed.Organic {
		position := r.Position
		if position <= 0 {
			position = i + 1
		}
		results = append(results, models.WebResult{
			Title:         r.Title,
			URL:           r.Link,
			Snippet:       r.Snippet,
			Score:         1.0 / (1.0 + float64(position)),
			PublishedDate: r.Date,
			Provider:      s.Name(),
		})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

// serperQuery folds domain filters into the query string; Serper has no
// dedicated request fields for them.
func serperQuery(query string, opts services.WebSearchOptions) string {
	var sb strings.Builder
	sb.WriteString(query)
	if len(opts.IncludeDomains) > 0 {
		sites := make([]string, len(opts.IncludeDomains))
		for i, d := range opts.IncludeDomains {
			sites[i] = "site:" + d
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(sites, " OR "))
		sb.WriteString(")")
	}
	for _, d := range opts.ExcludeDomains {
		sb.WriteString(" -site:")
		sb.WriteString(d)
	}
	return sb.String()
}

// failoverSearcher rate-limits outgoing queries and tries providers in
// order until one succeeds.
type failoverSearcher struct {
	providers    []services.WebSearcher
	limiter      *rate.Limiter
	defaultDepth string
}

// NewWebSearcher wires the configured providers, Tavily first. Returns
// nil when no provider has an API key; callers treat that as web search
// disabled.
func NewWebSearcher(cfg *config.WebSearchConfig) services.WebSearcher {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var providers []services.WebSearcher
	if cfg.TavilyAPIKey != "" {
		providers = append(providers, NewTavilySearcher(cfg.TavilyAPIKey, timeout))
	}
	if cfg.SerperAPIKey != "" {
		providers = append(providers, NewSerperSearcher(cfg.SerperAPIKey, timeout))
	}
	if len(providers) == 0 {
		return nil
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2.0
	}

	return &failoverSearcher{
		providers:    providers,
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		defaultDepth: cfg.SearchDepth,
	}
}

func (f *failoverSearcher) Name() string { return "failover" }

func (f *failoverSearcher) Search(ctx context.Context, query string, opts services.WebSearchOptions) ([]models.WebResult, error) {
	if len(f.providers) == 0 {
		return nil, services.ErrNoProviderAvailable
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if opts.SearchDepth == "" {
		opts.SearchDepth = f.defaultDepth
	}

	var lastErr error
	for _, provider := range f.providers {
		results, err := provider.Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		lastErr = err
		log.Printf("web search provider %s failed, trying next: %v", provider.Name(), err)
	}
	return nil, fmt.Errorf("all web search providers failed: %w", lastErr)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
