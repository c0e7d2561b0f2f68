package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stockpulse/stock-monitor/internal/scan"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// APIConfig describes one JSON storefront entry.
type APIConfig struct {
	Retailer        string
	Host            string
	SearchURL       string
	QueryParam      string
	ZipParam        string
	RequiresZip     bool
	SupportsSKU     bool
	ExpectedMarkers []string
}

// apiProduct is the wire shape of one product in a storefront response.
type apiProduct struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	SetName     string   `json:"set_name"`
	URL         string   `json:"url"`
	Price       *float64 `json:"price"`
	MarketPrice *float64 `json:"market_price"`
	Confidence  *float64 `json:"confidence"`
	InStock     *bool    `json:"in_stock"`
	Stock       string   `json:"stock_status"`
}

type apiResponse struct {
	Products []apiProduct `json:"products"`
}

// JSONAPIScanner queries storefronts that expose a JSON search endpoint.
type JSONAPIScanner struct {
	cfg     APIConfig
	baseURL *url.URL
}

// NewJSONAPI validates an API entry and builds its scanner.
func NewJSONAPI(cfg APIConfig) (*JSONAPIScanner, error) {
	if cfg.Retailer == "" {
		return nil, fmt.Errorf("error creating api scanner: retailer is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("error creating api scanner %q: host is required", cfg.Retailer)
	}
	base, err := url.Parse(cfg.SearchURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("error creating api scanner %q: invalid search url %q", cfg.Retailer, cfg.SearchURL)
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "q"
	}
	if cfg.ZipParam == "" {
		cfg.ZipParam = "zip"
	}
	return &JSONAPIScanner{cfg: cfg, baseURL: base}, nil
}

func (s *JSONAPIScanner) Retailer() string          { return s.cfg.Retailer }
func (s *JSONAPIScanner) Host() string              { return s.cfg.Host }
func (s *JSONAPIScanner) RequiresZip() bool         { return s.cfg.RequiresZip }
func (s *JSONAPIScanner) SupportsSKULookup() bool   { return s.cfg.SupportsSKU }
func (s *JSONAPIScanner) ExpectedMarkers() []string { return s.cfg.ExpectedMarkers }

// Fetch queries the storefront API. The browser profile still applies so the
// request blends with the site's own frontend traffic, with Accept narrowed
// to JSON.
func (s *JSONAPIScanner) Fetch(ctx context.Context, query, zip string, client *http.Client) *types.FetchResult {
	u := *s.baseURL
	params := u.Query()
	params.Set(s.cfg.QueryParam, query)
	if zip != "" {
		params.Set(s.cfg.ZipParam, zip)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &types.FetchResult{Err: err}
	}
	req.Header = scan.HeaderProfile()
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &types.FetchResult{Err: err}
	}
	defer resp.Body.Close()

	return readResult(resp)
}

// Parse decodes the storefront payload into normalized products.
func (s *JSONAPIScanner) Parse(result *types.FetchResult) ([]types.Product, error) {
	var payload apiResponse
	if err := json.Unmarshal(result.Body, &payload); err != nil {
		return nil, fmt.Errorf("error decoding storefront response: %w", err)
	}

	now := time.Now().UTC()
	var products []types.Product
	for _, ap := range payload.Products {
		name := strings.TrimSpace(ap.Name)
		if name == "" {
			continue
		}
		p := types.Product{
			Retailer:    s.cfg.Retailer,
			Name:        name,
			SetName:     strings.TrimSpace(ap.SetName),
			Price:       ap.Price,
			MarketPrice: ap.MarketPrice,
			Confidence:  ap.Confidence,
			ObservedAt:  now,
		}
		if sku := strings.TrimSpace(ap.SKU); sku != "" {
			p.SKU = types.StringPtr(sku)
		}
		if u := strings.TrimSpace(ap.URL); u != "" {
			p.URL = types.StringPtr(u)
		}
		if ap.InStock != nil {
			p.InStock = *ap.InStock
			p.StockStatusText = strings.TrimSpace(ap.Stock)
		} else {
			p.InStock, p.StockStatusText = stockFromText(ap.Stock)
		}
		products = append(products, p)
	}
	return products, nil
}
