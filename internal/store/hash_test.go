package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash("We are hiring engineers")
	b := ContentHash("We are hiring engineers")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex SHA-256
}

func TestContentHashSingleByteSensitivity(t *testing.T) {
	a := ContentHash("We are hiring engineers")
	b := ContentHash("We are hiring engineerz")
	assert.NotEqual(t, a, b)
}

func TestContentHashWhitespaceCollapse(t *testing.T) {
	// Reflowed whitespace is the same content.
	a := ContentHash("We are   hiring\n\tengineers")
	b := ContentHash("We are hiring engineers")
	assert.Equal(t, a, b)

	// Leading and trailing whitespace is cosmetic too.
	c := ContentHash("  We are hiring engineers\n")
	assert.Equal(t, a, c)
}

func TestContentHashUnicodeNormalization(t *testing.T) {
	// e+combining-acute normalizes to the same hash as the composed form.
	a := ContentHash("caf\u00e9")
	b := ContentHash("cafe\u0301")
	assert.Equal(t, a, b)
}

func TestContentHashMalformedInput(t *testing.T) {
	// Invalid UTF-8 must not panic the write path.
	assert.NotPanics(t, func() {
		h := ContentHash(string([]byte{0xff, 0xfe, 0xfd}))
		assert.Len(t, h, 64)
	})
}

func TestContentHashEmpty(t *testing.T) {
	assert.Len(t, ContentHash(""), 64)
}
