package scanners

import (
	"regexp"
	"strconv"
	"strings"
)

var priceRe = regexp.MustCompile(`[0-9][0-9.,]*`)

// parsePrice extracts the first decimal amount from a price string like
// "$1,299.99" or "Now: 49.99 USD". Nil when no parseable amount is present.
func parsePrice(s string) *float64 {
	m := priceRe.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.ReplaceAll(m, ",", "")
	f, err := strconv.ParseFloat(strings.TrimSuffix(m, "."), 64)
	if err != nil || f < 0 {
		return nil
	}
	return &f
}

var outOfStockPhrases = []string{
	"out of stock",
	"sold out",
	"currently unavailable",
	"notify me",
	"coming soon",
}

var inStockPhrases = []string{
	"in stock",
	"add to cart",
	"add to basket",
	"buy now",
	"available",
}

// stockFromText maps a stock status fragment onto an in-stock flag.
// Out-of-stock phrases win over in-stock phrases, and unknown or empty text
// counts as out of stock: a false out-of-stock costs one cycle of latency,
// a false in-stock fires a bad alert.
func stockFromText(s string) (bool, string) {
	text := strings.TrimSpace(s)
	lower := strings.ToLower(text)
	for _, phrase := range outOfStockPhrases {
		if strings.Contains(lower, phrase) {
			return false, text
		}
	}
	for _, phrase := range inStockPhrases {
		if strings.Contains(lower, phrase) {
			return true, text
		}
	}
	return false, text
}
