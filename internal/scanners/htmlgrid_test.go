package scanners

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/stock-monitor/internal/types"
)

const gridFixture = `<!DOCTYPE html>
<html><body>
<div class="product-grid">
  <ul>
    <li class="product-card" data-sku="BB-151">
      <a class="product-link" href="/p/scarlet-booster-box"><span class="product-title">Scarlet Booster Box</span></a>
      <span class="product-set">Scarlet &amp; Violet</span>
      <div class="price"><span class="current">$129.99</span><span class="market">$154.50</span></div>
      <div class="availability">In Stock</div>
    </li>
    <li class="product-card" data-sku="ETB-151">
      <a class="product-link" href="https://cdn.gridmart.example/p/elite-trainer"><span class="product-title">Elite Trainer Box</span></a>
      <div class="price"><span class="current">$49.99</span></div>
      <div class="availability">Sold Out</div>
    </li>
    <li class="product-card">
      <span class="product-title"></span>
    </li>
  </ul>
</div>
</body></html>`

func testGridScanner(t *testing.T, searchURL string) *HTMLGridScanner {
	t.Helper()
	s, err := NewHTMLGrid(GridConfig{
		Retailer:        "gridmart",
		Host:            "shop.gridmart.example",
		SearchURL:       searchURL,
		RequiresZip:     true,
		ExpectedMarkers: []string{"product-grid"},
		Selectors: GridSelectors{
			Item:        "div.product-grid li.product-card",
			Name:        ".product-title",
			SetName:     ".product-set",
			Price:       ".price .current",
			MarketPrice: ".price .market",
			Stock:       ".availability",
			Link:        "a.product-link",
			SKUAttr:     "data-sku",
		},
	})
	require.NoError(t, err)
	return s
}

func TestHTMLGridParse(t *testing.T) {
	s := testGridScanner(t, "https://shop.gridmart.example/search")

	products, err := s.Parse(&types.FetchResult{StatusCode: 200, Body: []byte(gridFixture)})
	require.NoError(t, err)
	require.Len(t, products, 2, "nameless items must be skipped")

	first := products[0]
	assert.Equal(t, "gridmart", first.Retailer)
	assert.Equal(t, "Scarlet Booster Box", first.Name)
	assert.Equal(t, "Scarlet & Violet", first.SetName)
	require.NotNil(t, first.Price)
	assert.Equal(t, 129.99, *first.Price)
	require.NotNil(t, first.MarketPrice)
	assert.Equal(t, 154.50, *first.MarketPrice)
	assert.True(t, first.InStock)
	assert.Equal(t, "In Stock", first.StockStatusText)
	require.NotNil(t, first.SKU)
	assert.Equal(t, "BB-151", *first.SKU)
	require.NotNil(t, first.URL)
	assert.Equal(t, "https://shop.gridmart.example/p/scarlet-booster-box", *first.URL, "relative links must absolutize against the search url")

	second := products[1]
	assert.False(t, second.InStock)
	assert.Equal(t, "Sold Out", second.StockStatusText)
	assert.Nil(t, second.MarketPrice)
	require.NotNil(t, second.URL)
	assert.Equal(t, "https://cdn.gridmart.example/p/elite-trainer", *second.URL, "absolute links pass through")
}

func TestHTMLGridParseEmptyGrid(t *testing.T) {
	s := testGridScanner(t, "https://shop.gridmart.example/search")

	body := []byte(`<html><body><div class="product-grid"><ul></ul></div></body></html>`)
	products, err := s.Parse(&types.FetchResult{StatusCode: 200, Body: body})
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestHTMLGridCanonicalKeyPrefersSKU(t *testing.T) {
	s := testGridScanner(t, "https://shop.gridmart.example/search")

	products, err := s.Parse(&types.FetchResult{StatusCode: 200, Body: []byte(gridFixture)})
	require.NoError(t, err)
	assert.Equal(t, "gridmart|BB-151", products[0].CanonicalKey())
}

func TestHTMLGridFetchBuildsQuery(t *testing.T) {
	var gotQuery, gotZip string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotZip = r.URL.Query().Get("zip")
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(gridFixture))
	}))
	defer server.Close()

	s := testGridScanner(t, server.URL+"/search")

	result := s.Fetch(context.Background(), "booster box", "10001", server.Client())
	require.NoError(t, result.Err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "booster box", gotQuery)
	assert.Equal(t, "10001", gotZip)
	assert.NotEmpty(t, result.Body)
}

func TestNewHTMLGridValidation(t *testing.T) {
	_, err := NewHTMLGrid(GridConfig{Host: "h", SearchURL: "https://h/s", Selectors: GridSelectors{Item: "li", Name: ".n"}})
	assert.Error(t, err, "retailer required")

	_, err = NewHTMLGrid(GridConfig{Retailer: "r", Host: "h", SearchURL: "://bad", Selectors: GridSelectors{Item: "li", Name: ".n"}})
	assert.Error(t, err, "search url must parse")

	_, err = NewHTMLGrid(GridConfig{Retailer: "r", Host: "h", SearchURL: "https://h/s", Selectors: GridSelectors{Item: "li"}})
	assert.Error(t, err, "name selector required")
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"$129.99", types.Float64Ptr(129.99)},
		{"$1,299.00", types.Float64Ptr(1299.00)},
		{"Now: 49.99 USD", types.Float64Ptr(49.99)},
		{"42", types.Float64Ptr(42)},
		{"", nil},
		{"call for price", nil},
	}
	for _, tt := range tests {
		got := parsePrice(tt.in)
		if tt.want == nil {
			assert.Nil(t, got, tt.in)
		} else {
			require.NotNil(t, got, tt.in)
			assert.Equal(t, *tt.want, *got, tt.in)
		}
	}
}

func TestStockFromText(t *testing.T) {
	inStock, text := stockFromText("  In Stock  ")
	assert.True(t, inStock)
	assert.Equal(t, "In Stock", text)

	inStock, _ = stockFromText("Add to Cart")
	assert.True(t, inStock)

	inStock, _ = stockFromText("Out of Stock")
	assert.False(t, inStock)

	// "sold out" wins even when "available" also appears.
	inStock, _ = stockFromText("Sold out - more available soon")
	assert.False(t, inStock)

	inStock, _ = stockFromText("")
	assert.False(t, inStock, "unknown stock text must not claim in-stock")
}
