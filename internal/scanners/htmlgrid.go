package scanners

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// GridSelectors are the CSS selectors that locate product data inside one
// retailer's search results page. Item is evaluated against the document,
// everything else against each item node. Empty optional selectors are
// skipped.
type GridSelectors struct {
	Item        string
	Name        string
	SetName     string
	Price       string
	MarketPrice string
	Stock       string
	Link        string
	SKUAttr     string
}

// GridConfig describes one HTML-grid retailer entry.
type GridConfig struct {
	Retailer        string
	Host            string
	SearchURL       string
	QueryParam      string
	ZipParam        string
	RequiresZip     bool
	SupportsSKU     bool
	ExpectedMarkers []string
	Selectors       GridSelectors
}

// HTMLGridScanner scrapes server-rendered product grids. Everything
// retailer-specific lives in its config so new grid storefronts are an
// entry, not a fork.
type HTMLGridScanner struct {
	cfg     GridConfig
	baseURL *url.URL
}

// NewHTMLGrid validates a grid entry and builds its scanner.
func NewHTMLGrid(cfg GridConfig) (*HTMLGridScanner, error) {
	if cfg.Retailer == "" {
		return nil, fmt.Errorf("error creating grid scanner: retailer is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("error creating grid scanner %q: host is required", cfg.Retailer)
	}
	if cfg.Selectors.Item == "" || cfg.Selectors.Name == "" {
		return nil, fmt.Errorf("error creating grid scanner %q: item and name selectors are required", cfg.Retailer)
	}
	base, err := url.Parse(cfg.SearchURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("error creating grid scanner %q: invalid search url %q", cfg.Retailer, cfg.SearchURL)
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "q"
	}
	if cfg.ZipParam == "" {
		cfg.ZipParam = "zip"
	}
	return &HTMLGridScanner{cfg: cfg, baseURL: base}, nil
}

func (s *HTMLGridScanner) Retailer() string          { return s.cfg.Retailer }
func (s *HTMLGridScanner) Host() string              { return s.cfg.Host }
func (s *HTMLGridScanner) RequiresZip() bool         { return s.cfg.RequiresZip }
func (s *HTMLGridScanner) SupportsSKULookup() bool   { return s.cfg.SupportsSKU }
func (s *HTMLGridScanner) ExpectedMarkers() []string { return s.cfg.ExpectedMarkers }

// Fetch loads one search results page for the query.
func (s *HTMLGridScanner) Fetch(ctx context.Context, query, zip string, client *http.Client) *types.FetchResult {
	u := *s.baseURL
	params := u.Query()
	params.Set(s.cfg.QueryParam, query)
	if zip != "" {
		params.Set(s.cfg.ZipParam, zip)
	}
	u.RawQuery = params.Encode()
	return doFetch(ctx, client, u.String())
}

// Parse extracts normalized products from a healthy results page. Items
// without a name are skipped; an empty grid with the page structure intact
// parses to an empty list, which the dispatcher reports as ok_empty.
func (s *HTMLGridScanner) Parse(result *types.FetchResult) ([]types.Product, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return nil, fmt.Errorf("error parsing results page: %w", err)
	}

	now := time.Now().UTC()
	sel := s.cfg.Selectors
	var products []types.Product

	doc.Find(sel.Item).Each(func(i int, item *goquery.Selection) {
		name := strings.TrimSpace(item.Find(sel.Name).First().Text())
		if name == "" {
			return
		}

		p := types.Product{
			Retailer:   s.cfg.Retailer,
			Name:       name,
			ObservedAt: now,
		}
		if sel.SetName != "" {
			p.SetName = strings.TrimSpace(item.Find(sel.SetName).First().Text())
		}
		if sel.Price != "" {
			p.Price = parsePrice(item.Find(sel.Price).First().Text())
		}
		if sel.MarketPrice != "" {
			p.MarketPrice = parsePrice(item.Find(sel.MarketPrice).First().Text())
		}
		if sel.Stock != "" {
			inStock, text := stockFromText(item.Find(sel.Stock).First().Text())
			p.InStock = inStock
			p.StockStatusText = text
		}
		if sel.Link != "" {
			if href, ok := item.Find(sel.Link).First().Attr("href"); ok {
				p.URL = types.StringPtr(s.absolutize(href))
			}
		}
		if sel.SKUAttr != "" {
			if sku, ok := item.Attr(sel.SKUAttr); ok && strings.TrimSpace(sku) != "" {
				p.SKU = types.StringPtr(strings.TrimSpace(sku))
			}
		}
		products = append(products, p)
	})

	return products, nil
}

func (s *HTMLGridScanner) absolutize(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return s.baseURL.ResolveReference(ref).String()
}
