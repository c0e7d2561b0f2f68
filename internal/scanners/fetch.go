// Package scanners ships the built-in RetailerScanner implementations: a
// selector-driven HTML product-grid scanner and a JSON storefront API
// scanner. Real deployments register their own entries alongside these.
package scanners

import (
	"context"
	"io"
	"net/http"

	"github.com/stockpulse/stock-monitor/internal/scan"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// maxBodyBytes caps how much of a response is read. Product pages beyond
// this are cut off rather than ballooning worker memory.
const maxBodyBytes = 8 << 20

// doFetch performs the single HTTP exchange every scanner shares: rotated
// browser headers, bounded body read, no retries.
func doFetch(ctx context.Context, client *http.Client, rawURL string) *types.FetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &types.FetchResult{Err: err}
	}
	req.Header = scan.HeaderProfile()

	resp, err := client.Do(req)
	if err != nil {
		return &types.FetchResult{Err: err}
	}
	defer resp.Body.Close()

	return readResult(resp)
}

// readResult drains a response into a FetchResult with the body cap applied.
func readResult(resp *http.Response) *types.FetchResult {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &types.FetchResult{Err: err}
	}
	return &types.FetchResult{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}
}
