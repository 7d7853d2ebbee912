package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffibridge "github.com/wippyai/ffi-bridge"
)

func TestNewString_Nil(t *testing.T) {
	env := newRecordingEnv()

	s := NewString(env, nil)
	assert.True(t, s.IsNull())
	assert.Equal(t, ffibridge.NullRef, s.Ref())
	s.Close()

	assert.Equal(t, 0, env.total())
}

func TestNewString_RoundTrip(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)

	for _, text := range []string{"", "a", "hello, world", "tab\there ~!"} {
		s := NewString(env, append([]byte(text), 0))
		require.False(t, s.IsNull())

		var got string
		require.NoError(t, WithString(env, s.Ref(), func(h *String) error {
			got = h.String()
			return nil
		}))
		assert.Equal(t, text, got)
		assert.Equal(t, len(text), env.StringLength(s.Ref()))
		s.Close()
	}

	assert.Equal(t, 0, env.LocalCount())
	assert.Empty(t, vm.Violations())
}

func TestNewString_WithoutTerminator(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)

	s := NewString(env, []byte("abc"))
	defer s.Close()
	text, ok := env.StringValue(s.Ref())
	require.True(t, ok)
	assert.Equal(t, "abc", text)
}

func TestLocalString_CloseDeletesOnce(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)

	s := NewString(env, []byte("x\x00"))
	assert.Equal(t, 1, env.LocalCount())
	s.Close()
	s.Close()

	assert.Equal(t, 0, env.LocalCount())
	assert.Equal(t, uint64(1), vm.Stats().LocalsDeleted)
	assert.True(t, s.IsNull())
	assert.Empty(t, vm.Violations())
}

// Bytes are appended one by one as native text, so only 0x01..0x7F survive
// unchanged. These cases pin the lossy mapping.
func TestNewStringFromBytes_Lossy(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)

	tests := []struct {
		name  string
		data  []byte
		want  string
		units int
	}{
		{"ascii", []byte("abc"), "abc", 3},
		{"empty", []byte{}, "", 0},
		{"invalid byte", []byte{0x41, 0xE9, 0x42}, "A\uFFFDB", 3},
		{"lone high bytes", []byte{0x80, 0xFF}, "\uFFFD\uFFFD", 2},
		{"utf8 pair collapses", []byte{0xC3, 0xA9}, "\u00e9", 1},
		{"embedded nul truncates", []byte{'a', 'b', 0, 'c'}, "ab", 2},
		{"leading nul", []byte{0, 'a'}, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStringFromBytes(env, tt.data)
			defer s.Close()
			require.False(t, s.IsNull())

			text, ok := env.StringValue(s.Ref())
			require.True(t, ok)
			assert.Equal(t, tt.want, text)
			assert.Equal(t, tt.units, env.StringLength(s.Ref()))
		})
	}
}

func TestNewStringFromBytes_ASCIIIdentity(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)

	data := make([]byte, 0, 0x7f)
	for b := byte(1); b <= 0x7f; b++ {
		data = append(data, b)
	}

	s := NewStringFromBytes(env, data)
	defer s.Close()
	err := WithString(env, s.Ref(), func(h *String) error {
		assert.Equal(t, data, h.Bytes())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(data), env.StringLength(s.Ref()))
}

func TestNewStringFromBytes_Nil(t *testing.T) {
	env := newRecordingEnv()

	// Unlike NewString, a nil slice still yields an empty string.
	s := NewStringFromBytes(env, nil)
	assert.False(t, s.IsNull())
	assert.Equal(t, 1, env.count("NewString"))
	s.Close()
	assert.Equal(t, 1, env.count("DeleteLocalRef"))
}
