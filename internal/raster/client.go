package raster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/model"
)

// ClientOptions configures the engine HTTP client.
type ClientOptions struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// RateLimit is requests per second against the engine; burst matches.
	RateLimit float64
}

// Client is the HTTP implementation of Engine. It rate-limits outbound
// queries, retries transient upstream failures with jittered backoff, and
// classifies terminal failures into the shared error taxonomy.
type Client struct {
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

var _ Engine = (*Client)(nil)

// NewClient creates an engine client with the given options.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 5
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: opts.BaseURL,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), int(math.Ceil(opts.RateLimit))),
		maxRetries: opts.MaxRetries,
	}
}

type windowResponse struct {
	Bands []*Band `json:"bands"`
}

// Window fetches all bands of the requested window. Bands come back sorted
// ascending by time regardless of upstream order.
func (c *Client) Window(ctx context.Context, req WindowRequest) ([]*Band, error) {
	q := url.Values{}
	q.Set("dataset", req.Dataset)
	q.Set("variable", req.Variable)
	q.Set("bbox", fmt.Sprintf("%g,%g,%g,%g",
		req.Bounds.MinLon, req.Bounds.MinLat, req.Bounds.MaxLon, req.Bounds.MaxLat))
	q.Set("start", req.Range.Start.Format(model.DateLayout))
	q.Set("end", req.Range.End.Format(model.DateLayout))
	q.Set("granularity", string(req.Granularity))
	q.Set("resolution", fmt.Sprintf("%g", req.ResolutionDeg))

	u := c.baseURL + "/v1/window?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "raster: create window request")
	}

	resp, err := c.doWithRetry(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindUpstream, err, "raster: read window response")
	}

	var wr windowResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, derrors.Wrap(derrors.KindUpstream, err, "raster: decode window response")
	}
	for i, b := range wr.Bands {
		if !b.valid() {
			return nil, derrors.Newf(derrors.KindUpstream,
				"raster: malformed band %d: %dx%d grid with %d values",
				i, b.Width, b.Height, len(b.Values))
		}
	}
	sort.Slice(wr.Bands, func(i, j int) bool {
		return wr.Bands[i].Time.Before(wr.Bands[j].Time)
	})
	return wr.Bands, nil
}

func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := range c.maxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "raster: rate limiter wait")
		}

		resp, err := c.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("engine request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from engine", resp.StatusCode)
			zap.L().Warn("engine throttling, backing off",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue

		default:
			// Engine errors other than throttling surface on first
			// occurrence; retrying an extraction is the caller's call.
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, derrors.Newf(derrors.KindUpstream,
				"raster: engine rejected window query: http %d: %s",
				resp.StatusCode, string(body))
		}
	}

	return nil, derrors.Wrap(derrors.KindUnavailable, lastErr, "raster: engine window query")
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := 500 * time.Millisecond
	maxBackoff := 15 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
