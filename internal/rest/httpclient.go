package rest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kapernikxd/aipair-chatsync/internal/cherr"
)

type ClientConfig struct {
	BaseURL         string
	AuthToken       string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

func newHTTPClient(conf ClientConfig) *http.Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	return &http.Client{Transport: tr, Timeout: conf.Timeout}
}

// doWithRetry runs the request with exponential backoff. 5xx responses are
// retried until the elapsed budget runs out; 4xx responses fail immediately.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)
		if c.conf.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.conf.AuthToken)
		}
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			// drain and close so the connection is reused
			_, _ = io.Copy(io.Discard, r.Body)
			_ = r.Body.Close()
			return fmt.Errorf("%w: %d", cherr.ErrBadStatus, r.StatusCode)
		}
		if r.StatusCode >= 400 {
			_, _ = io.Copy(io.Discard, r.Body)
			_ = r.Body.Close()
			return backoff.Permanent(fmt.Errorf("%w: %d", cherr.ErrBadStatus, r.StatusCode))
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}
