package heap

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Managed strings are stored as UTF-16LE code units.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func encodeUTF16(s string) ([]byte, error) {
	return utf16le.NewEncoder().Bytes([]byte(s))
}

func decodeUTF16(b []byte) (string, error) {
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// nativeText interprets a native C string. Text ends at the first NUL and
// every byte that does not start a valid UTF-8 sequence becomes U+FFFD.
func nativeText(cstr []byte) string {
	if i := bytes.IndexByte(cstr, 0); i >= 0 {
		cstr = cstr[:i]
	}
	if utf8.Valid(cstr) {
		return string(cstr)
	}

	var b bytes.Buffer
	b.Grow(len(cstr) + 8)
	for len(cstr) > 0 {
		r, size := utf8.DecodeRune(cstr)
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(cstr[:size])
		}
		cstr = cstr[size:]
	}
	return b.String()
}
