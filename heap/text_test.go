package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte("hello"), "hello"},
		{"stops at nul", []byte("ab\x00cd"), "ab"},
		{"valid multibyte", []byte("caf\xc3\xa9"), "café"},
		{"lone high byte", []byte{'a', 0xe9, 'b'}, "a\uFFFDb"},
		{"each invalid byte replaced", []byte{0xff, 0xfe}, "\uFFFD\uFFFD"},
		{"empty", []byte{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nativeText(tt.in))
		})
	}
}

func TestUTF16RoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "café", "日本語", "emoji \U0001F600"} {
		units, err := encodeUTF16(s)
		require.NoError(t, err)

		back, err := decodeUTF16(units)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}

	units, err := encodeUTF16("\U0001F600")
	require.NoError(t, err)
	assert.Len(t, units, 4, "surrogate pair is two code units")
}
