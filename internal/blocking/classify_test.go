package blocking

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stockpulse/stock-monitor/internal/types"
)

func body(s string) []byte { return []byte(s) }

func longBody(marker string) []byte {
	return []byte(marker + strings.Repeat(" product listing row", 50))
}

func TestClassify(t *testing.T) {
	signals := Signals{
		ExpectedMarkers:    []string{"product-grid"},
		SuspiciousMinBytes: 500,
	}

	tests := []struct {
		name   string
		result *types.FetchResult
		want   types.Classification
	}{
		{
			name:   "network timeout",
			result: &types.FetchResult{Err: context.DeadlineExceeded},
			want:   types.ClassTimeout,
		},
		{
			name:   "connection reset counts as transient",
			result: &types.FetchResult{Err: errors.New("read: connection reset by peer")},
			want:   types.ClassServerError,
		},
		{
			name:   "429 rate limited",
			result: &types.FetchResult{StatusCode: 429, Body: longBody("product-grid")},
			want:   types.ClassRateLimited,
		},
		{
			name: "429 wins over challenge keywords in body",
			result: &types.FetchResult{
				StatusCode: 429,
				Body:       longBody("please solve the captcha"),
			},
			want: types.ClassRateLimited,
		},
		{
			name:   "403 forbidden",
			result: &types.FetchResult{StatusCode: 403},
			want:   types.ClassForbidden,
		},
		{
			name: "503 with challenge marker",
			result: &types.FetchResult{
				StatusCode: 503,
				Body:       body("<html>Checking your browser before accessing</html>"),
			},
			want: types.ClassChallenge,
		},
		{
			name:   "503 without marker is a plain server error",
			result: &types.FetchResult{StatusCode: 503, Body: body("service unavailable")},
			want:   types.ClassServerError,
		},
		{
			name:   "500 server error",
			result: &types.FetchResult{StatusCode: 500},
			want:   types.ClassServerError,
		},
		{
			name:   "200 short body without expected markers",
			result: &types.FetchResult{StatusCode: 200, Body: body("<html></html>")},
			want:   types.ClassChallenge,
		},
		{
			name:   "200 short body with expected marker",
			result: &types.FetchResult{StatusCode: 200, Body: body(`<div class="product-grid"></div>`)},
			want:   types.ClassOK,
		},
		{
			name:   "200 with captcha keyword",
			result: &types.FetchResult{StatusCode: 200, Body: longBody("complete the CAPTCHA to continue")},
			want:   types.ClassChallenge,
		},
		{
			name:   "200 with access denied keyword",
			result: &types.FetchResult{StatusCode: 200, Body: longBody("Access Denied for this region")},
			want:   types.ClassChallenge,
		},
		{
			name:   "200 with robot prompt",
			result: &types.FetchResult{StatusCode: 200, Body: longBody("tell us: are you a robot?")},
			want:   types.ClassChallenge,
		},
		{
			name:   "200 healthy page",
			result: &types.FetchResult{StatusCode: 200, Body: longBody("product-grid")},
			want:   types.ClassOK,
		},
		{
			name:   "404 is neither block nor success",
			result: &types.FetchResult{StatusCode: 404},
			want:   types.ClassServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.result, signals))
		})
	}
}

func TestClassifyDefaultSuspiciousMinBytes(t *testing.T) {
	// Zero config falls back to the 500-byte default.
	result := &types.FetchResult{StatusCode: 200, Body: body("tiny")}
	assert.Equal(t, types.ClassChallenge, Classify(result, Signals{}))
}

func TestRetryAfterParsing(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "120")
	r := &types.FetchResult{StatusCode: 429, Header: h}
	assert.Equal(t, float64(120), r.RetryAfter().Seconds())

	r2 := &types.FetchResult{StatusCode: 429, Header: http.Header{}}
	assert.Zero(t, r2.RetryAfter())

	h3 := http.Header{}
	h3.Set("Retry-After", "not-a-number")
	r3 := &types.FetchResult{StatusCode: 429, Header: h3}
	assert.Zero(t, r3.RetryAfter())
}
