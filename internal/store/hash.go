package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ContentHash returns the hex SHA-256 of the normalized content. If
// normalization fails on malformed input it falls back to hashing the raw
// bytes directly; the write path never errors on bad content.
func ContentHash(raw string) string {
	normalized, ok := normalizeContent(raw)
	if !ok {
		normalized = raw
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// normalizeContent applies NFC unicode normalization and collapses runs of
// whitespace so cosmetic reflows of the same page dedupe to one hash.
func normalizeContent(raw string) (out string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = "", false
		}
	}()

	if !norm.NFC.IsNormalString(raw) {
		raw = norm.NFC.String(raw)
	}

	var b strings.Builder
	b.Grow(len(raw))
	inSpace := false
	for _, r := range raw {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String(), true
}
