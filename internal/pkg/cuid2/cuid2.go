// Package cuid2 generates collision-resistant, URL-safe identifiers with a
// type prefix, e.g. "task_0CL2KwaB3cD5eF7gH9iJ1k". IDs start with a
// base62-encoded timestamp so B-tree indexes keep rows for the same period
// adjacent.
package cuid2

import (
	crand "crypto/rand"
	"strings"
	"time"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// randomLength is the number of random characters after the timestamp,
// ~107 bits of entropy.
const randomLength = 18

// NewID returns a prefixed, time-sortable identifier.
func NewID(prefix string) string {
	return prefix + "_" + encodeTimestamp(time.Now().Unix()) + randomBase62(randomLength)
}

// encodeTimestamp renders Unix seconds as 6 base62 characters,
// lexicographically sortable until roughly year 3700.
func encodeTimestamp(seconds int64) string {
	out := make([]byte, 6)
	n := seconds
	for i := 5; i >= 0; i-- {
		out[i] = alphabet[n%62]
		n /= 62
	}
	return string(out)
}

// randomBase62 draws uniform base62 characters via rejection sampling:
// 6 bits at a time, discarding values 62 and 63.
func randomBase62(length int) string {
	buf := make([]byte, (length*6)/8+4)
	if _, err := crand.Read(buf); err != nil {
		panic("cuid2: crypto/rand failed: " + err.Error())
	}

	var sb strings.Builder
	sb.Grow(length)
	var bits uint64
	var have uint
	idx := 0
	for sb.Len() < length {
		for have < 6 {
			if idx >= len(buf) {
				if _, err := crand.Read(buf); err != nil {
					panic("cuid2: crypto/rand failed: " + err.Error())
				}
				idx = 0
			}
			bits = bits<<8 | uint64(buf[idx])
			have += 8
			idx++
		}
		v := (bits >> (have - 6)) & 0x3f
		have -= 6
		if v < 62 {
			sb.WriteByte(alphabet[v])
		}
	}
	return sb.String()
}
