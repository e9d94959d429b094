package clock

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Clock provides the corrected current time used to timestamp ledger rows.
// It is injected into every component that writes timestamps so there is no
// process-global offset.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the OS time unchanged.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// NetworkClock corrects the OS time by an offset learned from the Date
// header of an HTTP response, and renders in China Standard Time. The
// offset is zero until the first successful Sync.
type NetworkClock struct {
	url    string
	client *http.Client
	loc    *time.Location

	mu     sync.RWMutex
	offset time.Duration
}

// NewNetworkClock creates a clock that syncs against the given URL.
func NewNetworkClock(url string) *NetworkClock {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// tzdata missing; CST is a fixed offset anyway
		loc = time.FixedZone("CST", 8*3600)
	}
	return &NetworkClock{
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
		loc:    loc,
	}
}

// Sync issues a HEAD request and stores the difference between the server's
// Date header and the local clock. A failed sync leaves the previous offset
// in place.
func (c *NetworkClock) Sync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build time sync request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("time sync request failed: %w", err)
	}
	defer resp.Body.Close()

	dateStr := resp.Header.Get("Date")
	if dateStr == "" {
		return fmt.Errorf("time sync response has no Date header")
	}
	networkTime, err := http.ParseTime(dateStr)
	if err != nil {
		return fmt.Errorf("failed to parse Date header %q: %w", dateStr, err)
	}

	offset := time.Until(networkTime)
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
	return nil
}

// Now returns the corrected time in CST.
func (c *NetworkClock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return time.Now().Add(offset).In(c.loc)
}

// Offset returns the currently applied correction.
func (c *NetworkClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
