package pexels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	errs "pexelsync/pkg/errors"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/metrics"
	"pexelsync/pkg/ratelimit"
	"pexelsync/pkg/retry"
)

// Client talks to the Pexels API
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string

	limiter ratelimit.Limiter
	retry   *retry.Config
	metrics *metrics.Metrics
	counts  *expirable.LRU[string, CountResult]
	logger  logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API root, mostly for tests
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCountCache caches Count results per query
func WithCountCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size > 0 {
			c.counts = expirable.NewLRU[string, CountResult](size, nil, ttl)
		}
	}
}

// NewClient creates a Pexels client for apiKey
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		userAgent:  "pexelsync/1.0",
		retry:      retry.DefaultConfig(),
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search fetches one page of results for query
func (c *Client) Search(ctx context.Context, query string, page, perPage int) (*SearchResponse, error) {
	u := SearchURL(c.baseURL, query, page, perPage)

	var out SearchResponse
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		_, err := c.getJSON(ctx, "search", u, &out)
		return err
	})
	if err != nil {
		c.logger.ErrorWithFields("search request failed", map[string]interface{}{
			"query": query,
			"page":  page,
			"error": err.Error(),
		})
		return nil, err
	}

	c.logger.DebugWithFields("search page received", map[string]interface{}{
		"query":         query,
		"page":          out.Page,
		"per_page":      out.PerPage,
		"total_results": out.TotalResults,
		"photos":        len(out.Photos),
	})
	return &out, nil
}

// CheckKey validates the API key with a throwaway query. It does not retry:
// a wrong key should fail fast.
func (c *Client) CheckKey(ctx context.Context) error {
	var out SearchResponse
	if _, err := c.getJSON(ctx, "key_check", SearchURL(c.baseURL, KeyCheckQuery, 0, 0), &out); err != nil {
		c.logger.WithError(err).Warn("The connection to the Pexels API failed")
		if errs.Is(err, errs.ErrorTypeNetwork) {
			return err
		}
		return errs.New(errs.ErrorTypeAuth, errs.CodeOf(err), "the connection to the Pexels API failed, check the key")
	}

	c.logger.Info("The connection to the Pexels API was successful")
	return nil
}

// Count returns the number of results Pexels reports for query
func (c *Client) Count(ctx context.Context, query string) (*CountResult, error) {
	if c.counts != nil {
		if cached, ok := c.counts.Get(query); ok {
			if c.metrics != nil {
				c.metrics.CountCacheHits.Inc()
			}
			return &cached, nil
		}
		if c.metrics != nil {
			c.metrics.CountCacheMisses.Inc()
		}
	}

	var out SearchResponse
	remaining, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (int, error) {
		return c.getJSON(ctx, "count", SearchURL(c.baseURL, query, 0, 0), &out)
	})
	if err != nil {
		return nil, err
	}

	result := CountResult{
		Query:         query,
		Total:         out.TotalResults,
		Capped:        out.TotalResults == MaxResults,
		RateRemaining: remaining,
		Message:       CountMessage(out.TotalResults),
	}
	c.logger.InfoWithFields("Pexels API returned result count", map[string]interface{}{
		"query": query,
		"total": result.Total,
	})

	if c.counts != nil {
		c.counts.Add(query, result)
	}
	return &result, nil
}

// DownloadPhoto fetches the binary behind a photo link
func (c *Client) DownloadPhoto(ctx context.Context, photoURL string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		resp, err := c.do(ctx, photoURL, false)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := c.checkResponseStatus(resp); err != nil {
			return nil, err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeNetwork, 0, "failed to download photo: %v", err)
		}
		return data, nil
	})
}

// getJSON performs one GET against the API and decodes the body into
// target. It returns the X-Ratelimit-Remaining value, or -1 if absent.
func (c *Client) getJSON(ctx context.Context, endpoint, u string, target interface{}) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return -1, err
		}
	}

	resp, err := c.do(ctx, u, true)
	if err != nil {
		c.countRequest(endpoint, "error")
		return -1, err
	}
	defer resp.Body.Close()

	c.countRequest(endpoint, strconv.Itoa(resp.StatusCode))
	remaining := c.observeRateLimit(resp, endpoint)

	if err := c.checkResponseStatus(resp); err != nil {
		return remaining, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return remaining, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"endpoint":     endpoint,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return remaining, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}
	return remaining, nil
}

func (c *Client) do(ctx context.Context, u string, authorize bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeValidation, 0, "failed to create request: %v", err)
	}
	if authorize {
		req.Header.Set("Authorization", c.apiKey)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":      u,
			"error":    err.Error(),
			"duration": elapsed,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}

	logger.LogRequest(c.logger, req.Method, req.URL.Path, resp.StatusCode, float64(elapsed.Microseconds())/1000)
	return resp, nil
}

// observeRateLimit reads the quota headers. When the quota is spent and a
// reset time is given, the limiter is paused until then.
func (c *Client) observeRateLimit(resp *http.Response, endpoint string) int {
	raw := resp.Header.Get("X-Ratelimit-Remaining")
	if raw == "" {
		c.logger.DebugWithFields("no rate limit headers in response", map[string]interface{}{
			"endpoint": endpoint,
		})
		return -1
	}

	remaining, err := strconv.Atoi(raw)
	if err != nil {
		c.logger.WarnWithFields("unparseable rate limit header", map[string]interface{}{
			"value": raw,
		})
		return -1
	}

	c.logger.InfoWithFields(fmt.Sprintf("Pexels API announced that %d requests left", remaining), map[string]interface{}{
		"endpoint": endpoint,
	})
	if c.metrics != nil {
		c.metrics.RateRemaining.Set(float64(remaining))
	}

	if remaining == 0 && c.limiter != nil {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-Ratelimit-Reset"), 10, 64); err == nil {
			c.limiter.PauseUntil(time.Unix(reset, 0))
			logger.LogRateLimit(c.logger, endpoint, remaining)
		}
	}
	return remaining
}

func (c *Client) checkResponseStatus(resp *http.Response) error {
	apiErr := errs.FromStatus(resp.StatusCode, "")
	if apiErr == nil {
		return nil
	}

	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.Path,
	}
	if apiErr.Type == errs.ErrorTypeServerError {
		c.logger.ErrorWithFields("Pexels API server error", fields)
	} else {
		c.logger.WarnWithFields("Pexels API did not answer correctly", fields)
	}
	return apiErr
}

func (c *Client) countRequest(endpoint, status string) {
	if c.metrics != nil {
		c.metrics.ProviderRequests.WithLabelValues(endpoint, status).Inc()
	}
}
