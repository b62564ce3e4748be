package tmdb

import (
	"context"
	"fmt"
	"io"
	"time"
)

type authResponse struct {
	Success bool `json:"success"`
}

// Ping verifies that the API is reachable and accepts the bearer token.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var ar authResponse
	if err := c.getJSON(ctx, "authentication", "/authentication", nil, &ar); err != nil {
		return err
	}
	if !ar.Success {
		return fmt.Errorf("%w: token rejected by movie API", ErrTransport)
	}
	return nil
}

// EnsureReady pings the API and reports progress to w.
func EnsureReady(ctx context.Context, c *Client, w io.Writer) error {
	fmt.Fprintf(w, "movie API %s: checking...\n", c.baseURL)
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("movie API not ready: %w", err)
	}
	fmt.Fprintf(w, "movie API %s: ready\n", c.baseURL)
	return nil
}
