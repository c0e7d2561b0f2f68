// Package blocking classifies scan responses and tracks host quarantines so
// the dispatcher stops hammering retailers that are rate limiting, walling,
// or erroring.
package blocking

import (
	"bytes"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// challengePageMarkers identify interstitial anti-bot pages served with 503.
var challengePageMarkers = [][]byte{
	[]byte("checking your browser"),
	[]byte("challenge-platform"),
	[]byte("cf-browser-verification"),
	[]byte("ddos protection by"),
}

// challengeKeywords identify challenge content hiding behind a 200.
var challengeKeywords = [][]byte{
	[]byte("captcha"),
	[]byte("access denied"),
	[]byte("are you a robot"),
}

// Signals carries the per-scanner hints classification needs: substrings a
// healthy page always contains, and the body size below which a page with no
// such marker is treated as a challenge wall.
type Signals struct {
	ExpectedMarkers    []string
	SuspiciousMinBytes int
}

// Classify maps one fetch result onto the blocking taxonomy. Rules are
// evaluated in order and the first match wins. A 200 always classifies ok
// here; the dispatcher downgrades to ok_empty after parsing.
func Classify(result *types.FetchResult, signals Signals) types.Classification {
	if result == nil {
		return types.ClassServerError
	}
	if result.Err != nil {
		if types.IsTimeout(result.Err) {
			return types.ClassTimeout
		}
		// Connection failures that survived the retry budget count as
		// transients, same cool-down path as 5xx.
		return types.ClassServerError
	}

	switch {
	case result.StatusCode == 429:
		return types.ClassRateLimited
	case result.StatusCode == 403:
		return types.ClassForbidden
	case result.StatusCode == 503 && containsAny(lowerBody(result), challengePageMarkers):
		return types.ClassChallenge
	case result.StatusCode >= 500:
		return types.ClassServerError
	case result.StatusCode == 200:
		return classifyOK(result, signals)
	default:
		// Remaining 4xx and 3xx land here. They are neither blocks nor
		// successes; the scanner surfaces them as parse-level failures.
		return types.ClassServerError
	}
}

func classifyOK(result *types.FetchResult, signals Signals) types.Classification {
	body := lowerBody(result)

	minBytes := signals.SuspiciousMinBytes
	if minBytes <= 0 {
		minBytes = 500
	}
	if len(result.Body) < minBytes && !containsAnyString(body, signals.ExpectedMarkers) {
		return types.ClassChallenge
	}
	if containsAny(body, challengeKeywords) {
		return types.ClassChallenge
	}
	return types.ClassOK
}

func lowerBody(result *types.FetchResult) []byte {
	return bytes.ToLower(result.Body)
}

func containsAny(body []byte, needles [][]byte) bool {
	for _, n := range needles {
		if bytes.Contains(body, n) {
			return true
		}
	}
	return false
}

func containsAnyString(body []byte, needles []string) bool {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if bytes.Contains(body, bytes.ToLower([]byte(n))) {
			return true
		}
	}
	return false
}
