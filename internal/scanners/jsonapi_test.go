package scanners

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/stock-monitor/internal/scan"
	"github.com/stockpulse/stock-monitor/internal/types"
)

const apiFixture = `{
  "products": [
    {
      "sku": "SV-151-BB",
      "name": "151 Booster Bundle",
      "set_name": "Scarlet & Violet 151",
      "url": "https://cardline.example/p/sv-151-bb",
      "price": 39.99,
      "market_price": 55.25,
      "confidence": 0.93,
      "in_stock": true,
      "stock_status": "in_stock"
    },
    {
      "sku": "SV-151-ETB",
      "name": "151 Elite Trainer Box",
      "price": 54.99,
      "stock_status": "sold out"
    },
    {
      "sku": "GHOST-1",
      "name": "   "
    }
  ]
}`

func testAPIScanner(t *testing.T, searchURL string) *JSONAPIScanner {
	t.Helper()
	s, err := NewJSONAPI(APIConfig{
		Retailer:        "cardline",
		Host:            "api.cardline.example",
		SearchURL:       searchURL,
		SupportsSKU:     true,
		ExpectedMarkers: []string{`"products"`},
	})
	require.NoError(t, err)
	return s
}

func TestJSONAPIParse(t *testing.T) {
	s := testAPIScanner(t, "https://api.cardline.example/v1/products")

	products, err := s.Parse(&types.FetchResult{StatusCode: 200, Body: []byte(apiFixture)})
	require.NoError(t, err)
	require.Len(t, products, 2, "blank names are skipped")

	first := products[0]
	assert.Equal(t, "cardline", first.Retailer)
	assert.Equal(t, "151 Booster Bundle", first.Name)
	assert.Equal(t, "Scarlet & Violet 151", first.SetName)
	require.NotNil(t, first.Price)
	assert.Equal(t, 39.99, *first.Price)
	require.NotNil(t, first.MarketPrice)
	assert.Equal(t, 55.25, *first.MarketPrice)
	require.NotNil(t, first.Confidence)
	assert.Equal(t, 0.93, *first.Confidence)
	assert.True(t, first.InStock)
	assert.Equal(t, "cardline|SV-151-BB", first.CanonicalKey())

	second := products[1]
	assert.False(t, second.InStock, "missing in_stock falls back to the status text")
	assert.Equal(t, "sold out", second.StockStatusText)
}

func TestJSONAPIParseRejectsMalformedPayload(t *testing.T) {
	s := testAPIScanner(t, "https://api.cardline.example/v1/products")

	_, err := s.Parse(&types.FetchResult{StatusCode: 200, Body: []byte(`<html>not json</html>`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding storefront response")
}

func TestJSONAPIFetchSetsJSONAccept(t *testing.T) {
	var gotAccept, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(apiFixture))
	}))
	defer server.Close()

	s := testAPIScanner(t, server.URL+"/v1/products")

	result := s.Fetch(context.Background(), "151 booster", "", server.Client())
	require.NoError(t, result.Err)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "151 booster", gotQuery)
}

func TestRegisterDefaults(t *testing.T) {
	registry := scan.NewRegistry()
	require.NoError(t, RegisterDefaults(registry))

	assert.Equal(t, []string{"cardline", "gridmart"}, registry.Retailers())

	grid, ok := registry.Get("gridmart")
	require.True(t, ok)
	assert.True(t, grid.RequiresZip())
	assert.Equal(t, "shop.gridmart.example", grid.Host())

	api, ok := registry.Get("cardline")
	require.True(t, ok)
	assert.True(t, api.SupportsSKULookup())
}
