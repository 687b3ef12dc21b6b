package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

const robotsBodyLimit = 512 << 10

type robotsEntry struct {
	once sync.Once
	data *robotstxt.RobotsData
}

// robotsCache keeps one parsed robots.txt per scheme and host for the life
// of the client. A robots.txt that cannot be fetched allows everything.
type robotsCache struct {
	mu      sync.Mutex
	entries map[string]*robotsEntry
}

func newRobotsCache() *robotsCache {
	return &robotsCache{entries: make(map[string]*robotsEntry)}
}

func (c *Client) allowedByRobots(ctx context.Context, u *url.URL) bool {
	key := strings.ToLower(u.Scheme + "://" + u.Host)

	c.robots.mu.Lock()
	entry, ok := c.robots.entries[key]
	if !ok {
		entry = &robotsEntry{}
		c.robots.entries[key] = entry
	}
	c.robots.mu.Unlock()

	entry.once.Do(func() {
		// The result is cached for every later caller, so it must not
		// depend on whether this caller gives up early.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()
		entry.data = c.fetchRobots(fetchCtx, key+"/robots.txt", u.Hostname())
	})
	if entry.data == nil {
		return true
	}
	return entry.data.TestAgent(u.RequestURI(), c.opts.UserAgent)
}

func (c *Client) fetchRobots(ctx context.Context, robotsURL, host string) *robotstxt.RobotsData {
	if err := c.limiters.get(host).Wait(ctx); err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt unavailable, allowing all")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsBodyLimit))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt unparsable, allowing all")
		return nil
	}
	return data
}
