package scan

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// charsetFromContentType pulls the charset parameter out of a Content-Type
// header value. Empty when absent.
func charsetFromContentType(contentType string) string {
	for _, part := range strings.Split(contentType, ";") {
		part = strings.TrimSpace(strings.ToLower(part))
		if after, ok := strings.CutPrefix(part, "charset="); ok {
			return strings.Trim(after, `"`)
		}
	}
	return ""
}

func decoderFor(charset string) encoding.Encoding {
	switch charset {
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1
	case "iso-8859-2":
		return charmap.ISO8859_2
	case "windows-1250":
		return charmap.Windows1250
	case "windows-1252":
		return charmap.Windows1252
	default:
		return nil
	}
}

// DecodeBody transcodes a response body to UTF-8 based on the Content-Type
// charset. Bodies that are already valid UTF-8 pass through untouched even
// when the header claims a legacy charset, since mislabeled UTF-8 is common
// and double-decoding mangles it.
func DecodeBody(body []byte, contentType string) []byte {
	if len(body) == 0 {
		return body
	}
	if utf8.Valid(body) {
		return body
	}
	dec := decoderFor(charsetFromContentType(contentType))
	if dec == nil {
		// Unknown legacy charset; windows-1252 decodes any byte sequence and
		// covers the overwhelming share of mislabeled retail pages.
		dec = charmap.Windows1252
	}
	decoded, err := dec.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}
