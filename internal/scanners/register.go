package scanners

import (
	"fmt"

	"github.com/stockpulse/stock-monitor/internal/scan"
)

// RegisterDefaults wires the built-in demo entries into a registry. They
// target .example hosts and exist so the engine runs end to end out of the
// box; deployments register real retailer entries next to them.
func RegisterDefaults(registry *scan.Registry) error {
	grid, err := NewHTMLGrid(GridConfig{
		Retailer:        "gridmart",
		Host:            "shop.gridmart.example",
		SearchURL:       "https://shop.gridmart.example/search",
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
	if err != nil {
		return fmt.Errorf("error registering gridmart: %w", err)
	}
	registry.Register(grid)

	api, err := NewJSONAPI(APIConfig{
		Retailer:        "cardline",
		Host:            "api.cardline.example",
		SearchURL:       "https://api.cardline.example/v1/products",
		SupportsSKU:     true,
		ExpectedMarkers: []string{`"products"`},
	})
	if err != nil {
		return fmt.Errorf("error registering cardline: %w", err)
	}
	registry.Register(api)

	return nil
}
