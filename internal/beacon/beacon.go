// Package beacon delivers a final payload to the server the way a browser
// beacon does: the request is queued and the caller moves on. Nobody
// observes the response, and failed deliveries are not retried.
package beacon

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one beacon request.
const DefaultTimeout = 5 * time.Second

// Client sends beacons over HTTP with resty.
type Client struct {
	http    *resty.Client
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New returns a beacon client. timeout <= 0 selects DefaultTimeout.
func New(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(logger.Sugar()).
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpClient, timeout: timeout, logger: logger}
}

// SendBeacon posts body to url in the background and returns at once.
func (c *Client) SendBeacon(url string, body []byte) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			Post(url)
		if err != nil {
			c.logger.Debug("beacon not delivered", zap.String("url", url), zap.Error(err))
			return
		}
		c.logger.Debug("beacon delivered", zap.String("url", url), zap.Int("status", resp.StatusCode()))
	}()
}

// Wait blocks until queued beacons have finished or d elapsed, and reports
// whether they all finished. Processes call it right before exiting so the
// request is not cut off mid-flight.
func (c *Client) Wait(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
