// Package fetch is the rate-limited, retrying HTTP client every network
// read of an ingestion run goes through.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"horse.fit/newsradar/internal/news"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 10 * time.Second
	defaultBodyLimit   = 4 << 20
	defaultUserAgent   = "newsradar/1.0"
)

type Options struct {
	Timeout       time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	BodyByteLimit int64
	UserAgent     string
	DefaultRate   float64
	DefaultBurst  int
	RespectRobots bool
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// Response is a successful fetch with the body already decoded to UTF-8
// for HTML content.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
}

type Client struct {
	http     *http.Client
	opts     Options
	logger   zerolog.Logger
	limiters *limiterSet
	robots   *robotsCache
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = max(defaultMaxBackoff, opts.BaseBackoff)
	}
	if opts.BodyByteLimit <= 0 {
		opts.BodyByteLimit = defaultBodyLimit
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		http:     httpClient,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "fetch").Logger(),
		limiters: newLimiterSet(opts.DefaultRate, opts.DefaultBurst),
		robots:   newRobotsCache(),
	}
}

// SetHostRate overrides the token bucket of one host. Non-positive values
// fall back to the client defaults.
func (c *Client) SetHostRate(host string, rps float64, burst int) {
	c.limiters.set(host, rps, burst)
}

// Get fetches rawURL. Timeouts, connection errors, 429 and 5xx are retried
// with exponential backoff up to MaxAttempts and come back as transient
// errors when exhausted. Other non-2xx statuses, robots.txt refusals and
// oversized bodies are permanent. Cancellation of ctx is returned as is.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, news.Rejectf("fetch", "invalid url %q", rawURL)
	}
	if c.opts.RespectRobots && !c.allowedByRobots(ctx, u) {
		return nil, news.Rejectf("fetch", "disallowed by robots.txt: %s", rawURL)
	}

	limiter := c.limiters.get(u.Hostname())
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, retryAfter, err := c.do(ctx, rawURL)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !news.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt == c.opts.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
			limiter.PauseFor(retryAfter)
		}
		c.logger.Debug().
			Err(err).
			Str("url", rawURL).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying fetch")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, news.Transient("fetch", fmt.Errorf("%s: giving up after %d attempts: %w", rawURL, c.opts.MaxAttempts, lastErr))
}

// do runs one attempt. The duration is the server's Retry-After, if any.
func (c *Client) do(ctx context.Context, rawURL string) (*Response, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, news.Permanent("fetch", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/rss+xml,application/atom+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && !urlErr.Timeout() && isRedirectOrSchemeError(urlErr) {
			return nil, 0, news.Permanent("fetch", err)
		}
		return nil, 0, news.Transient("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), news.Transient("fetch", fmt.Errorf("%s: HTTP %d", rawURL, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, news.Rejectf("fetch", "%s: HTTP %d", rawURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	var body io.Reader = resp.Body
	if isHTML(contentType) {
		if utf8Reader, err := charset.NewReader(resp.Body, contentType); err == nil {
			body = utf8Reader
		}
	}
	raw, err := io.ReadAll(io.LimitReader(body, c.opts.BodyByteLimit+1))
	if err != nil {
		return nil, 0, news.Transient("fetch", fmt.Errorf("%s: read body: %w", rawURL, err))
	}
	if int64(len(raw)) > c.opts.BodyByteLimit {
		return nil, 0, news.Rejectf("fetch", "%s: body exceeds %d bytes", rawURL, c.opts.BodyByteLimit)
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Response{
		URL:         rawURL,
		FinalURL:    final,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        raw,
	}, 0, nil
}

// backoff is BaseBackoff doubled per attempt, capped at MaxBackoff, with
// up to half of it replaced by jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BaseBackoff << (attempt - 1)
	if d <= 0 || d > c.opts.MaxBackoff {
		d = c.opts.MaxBackoff
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		return time.Until(at)
	}
	return 0
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isRedirectOrSchemeError(err *url.Error) bool {
	msg := err.Err.Error()
	return strings.Contains(msg, "stopped after") || strings.Contains(msg, "unsupported protocol scheme")
}
