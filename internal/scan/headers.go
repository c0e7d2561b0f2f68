package scan

import (
	"net/http"
	"sync/atomic"
)

// browserProfile is one mutually consistent header set. Accept-Language and
// the client hint headers must match the User-Agent family or the request
// fingerprints as a bot.
type browserProfile struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	SecChUA        string
	SecChUAMobile  string
	SecChUAPlat    string
}

var browserProfiles = []browserProfile{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		SecChUA:        `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
		SecChUAMobile:  "?0",
		SecChUAPlat:    `"Windows"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		SecChUA:        `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
		SecChUAMobile:  "?0",
		SecChUAPlat:    `"macOS"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.5",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		SecChUA:        `"Not/A)Brand";v="8", "Chromium";v="126", "Microsoft Edge";v="126"`,
		SecChUAMobile:  "?0",
		SecChUAPlat:    `"Windows"`,
	},
}

var profileCursor atomic.Uint64

// nextProfile rotates through the fixed profile list.
func nextProfile() browserProfile {
	n := profileCursor.Add(1)
	return browserProfiles[(n-1)%uint64(len(browserProfiles))]
}

// applyProfile sets the profile's headers plus the static ones every browser
// sends.
func applyProfile(h http.Header, p browserProfile) {
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", p.Accept)
	h.Set("Accept-Language", p.AcceptLanguage)
	// Accept-Encoding is left to the transport so gzip stays transparent.
	h.Set("Upgrade-Insecure-Requests", "1")
	if p.SecChUA != "" {
		h.Set("Sec-CH-UA", p.SecChUA)
		h.Set("Sec-CH-UA-Mobile", p.SecChUAMobile)
		h.Set("Sec-CH-UA-Platform", p.SecChUAPlat)
	}
}

// HeaderProfile returns a rotated, mutually consistent browser header set.
// Scanners apply it to their outgoing requests.
func HeaderProfile() http.Header {
	h := http.Header{}
	applyProfile(h, nextProfile())
	return h
}
