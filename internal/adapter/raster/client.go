// Package raster is an HTTP client for the remote raster query service. It
// samples every pixel of a filtered image collection inside a region and
// returns the rows as a domain.RawSample.
package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
)

// ErrUnauthorized means the service rejected the session's credentials.
var ErrUnauthorized = errors.New("raster service rejected credentials")

// Client implements the pipeline's raster service using the REST API.
type Client struct {
	baseURL    string
	project    string
	httpClient *http.Client
	tokens     TokenSource
	token      string
	logger     *slog.Logger
	metrics    *observability.Metrics

	// maxRetryElapsed bounds transport retries (429, 5xx, network errors).
	maxRetryElapsed time.Duration
}

// NewClient creates a raster client. Call Reconnect before the first query.
func NewClient(baseURL, project string, timeout time.Duration, tokens TokenSource, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		project: project,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens:          tokens,
		logger:          logger,
		metrics:         metrics,
		maxRetryElapsed: 2 * time.Minute,
	}
}

// Reconnect re-authenticates the session by fetching a fresh access token.
// It is safe to call at any time and any number of times.
func (c *Client) Reconnect(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("raster session: %w", err)
	}
	c.token = token
	c.logger.Info("raster session established", "project", c.project)
	return nil
}

// QueryRegion samples the query's images over geom at the given scale.
// Resource-limit failures come back as a retryable *domain.QueryError;
// other service rejections are non-retryable QueryErrors. Exhausted
// transport retries and ErrUnauthorized are returned as plain errors.
func (c *Client) QueryRegion(ctx context.Context, q domain.ImageQuery, geom domain.MultiPolygon, scale int) (domain.RawSample, error) {
	body, err := json.Marshal(newSampleRequest(q, geom, scale))
	if err != nil {
		return domain.RawSample{}, fmt.Errorf("encode sample request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/region:sample", c.baseURL, url.PathEscape(c.project))

	var sample domain.RawSample
	operation := func() error {
		s, err := c.doRequest(ctx, endpoint, body, scale)
		if err != nil {
			return err
		}
		sample = s
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxRetryElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return domain.RawSample{}, err
	}
	return sample, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, body []byte, scale int) (domain.RawSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.RawSample{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.RawSample{}, backoff.Permanent(ctx.Err())
		}
		c.metrics.RasterRequests.WithLabelValues("transport").Inc()
		c.logger.Warn("raster request failed, retrying", "error", err, "scale", scale)
		return domain.RawSample{}, fmt.Errorf("sample request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var sr sampleResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			c.metrics.RasterRequests.WithLabelValues("error").Inc()
			return domain.RawSample{}, backoff.Permanent(fmt.Errorf("decode sample response: %w", err))
		}
		c.metrics.RasterRequests.WithLabelValues("ok").Inc()
		return domain.RawSample{Rows: sr.Rows}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := decodeAPIError(b)
		if isLimitError(apiErr) {
			c.metrics.RasterRequests.WithLabelValues("retryable").Inc()
			return domain.RawSample{}, backoff.Permanent(&domain.QueryError{Scale: scale, Retryable: true, Reason: apiErr.Message})
		}
		c.metrics.RasterRequests.WithLabelValues("transport").Inc()
		return domain.RawSample{}, fmt.Errorf("raster service: status %d: %s", resp.StatusCode, apiErr.Message)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.metrics.RasterRequests.WithLabelValues("error").Inc()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.RawSample{}, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, decodeAPIError(b).Message))

	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := decodeAPIError(b)
		qe := &domain.QueryError{Scale: scale, Retryable: isLimitError(apiErr), Reason: apiErr.Message}
		if qe.Retryable {
			c.metrics.RasterRequests.WithLabelValues("retryable").Inc()
		} else {
			c.metrics.RasterRequests.WithLabelValues("error").Inc()
		}
		return domain.RawSample{}, backoff.Permanent(qe)
	}
}

// limitMessages are the service's resource-limit failures; a coarser scale
// reduces the pixel count and usually avoids them.
var limitMessages = []string{
	"too many pixels",
	"user memory limit exceeded",
	"computation timed out",
	"too many concurrent aggregations",
	"request payload size exceeds",
	"response size exceeds",
}

func isLimitError(e apiError) bool {
	if e.Status == "RESOURCE_EXHAUSTED" || e.Status == "DEADLINE_EXCEEDED" {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, m := range limitMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func decodeAPIError(b []byte) apiError {
	var env errorEnvelope
	if err := json.Unmarshal(b, &env); err != nil || env.Error.Message == "" {
		return apiError{Message: strings.TrimSpace(string(b))}
	}
	return env.Error
}

// API request/response types.

type sampleRequest struct {
	Collection string   `json:"collection"`
	Bands      []string `json:"bands"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Filters    []filter `json:"filters,omitempty"`
	Geometry   geoJSON  `json:"geometry"`
	Scale      int      `json:"scale"`
}

type filter struct {
	Property string `json:"property"`
	Equals   string `json:"equals"`
}

type geoJSON struct {
	Type        string              `json:"type"`
	Coordinates domain.MultiPolygon `json:"coordinates"`
}

type sampleResponse struct {
	Rows [][]any `json:"rows"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func newSampleRequest(q domain.ImageQuery, geom domain.MultiPolygon, scale int) sampleRequest {
	req := sampleRequest{
		Collection: q.Collection,
		Bands:      q.Bands,
		Start:      q.Start.Format(domain.DateLayout),
		End:        q.End.Format(domain.DateLayout),
		Geometry:   geoJSON{Type: "MultiPolygon", Coordinates: geom},
		Scale:      scale,
	}
	for _, f := range q.Filters {
		req.Filters = append(req.Filters, filter{Property: f.Key, Equals: f.Value})
	}
	return req
}
