package repository

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", TruncateError("short"))

	long := strings.Repeat("a", MaxErrorMessageBytes+10)
	assert.Len(t, TruncateError(long), MaxErrorMessageBytes)

	multibyte := strings.Repeat("a", MaxErrorMessageBytes-1) + "é"
	got := TruncateError(multibyte)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, MaxErrorMessageBytes-1)
}
