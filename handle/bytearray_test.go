package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffibridge "github.com/wippyai/ffi-bridge"
)

func TestByteArray_Accessors(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)
	ref := env.NewByteArray([]byte{1, 2, 0xff})

	a := OpenByteArray(env, ref)
	assert.Equal(t, []int8{1, 2, -1}, a.Elements())
	assert.Equal(t, []byte{1, 2, 0xff}, a.Bytes())
	assert.Equal(t, 3, a.Len())

	a.Bytes()[0] = 9
	assert.Equal(t, int8(9), a.Elements()[0])
	a.Close()
	a.Close()

	// Elements are never copied back.
	data, ok := env.ByteArrayValue(ref)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 0xff}, data)

	st := vm.Stats()
	assert.Equal(t, 0, st.Pins)
	assert.Equal(t, uint64(1), st.Unpinned)
	assert.Empty(t, vm.Violations())
}

func TestByteArray_Empty(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)

	a := OpenByteArray(env, env.NewByteArray(nil))
	assert.Equal(t, 0, a.Len())
	assert.Empty(t, a.Bytes())
	a.Close()

	assert.Equal(t, 0, vm.Stats().Pins)
	assert.Empty(t, vm.Violations())
}

func TestByteArray_ReleaseModeAbort(t *testing.T) {
	env := &modeEnv{recordingEnv: newRecordingEnv()}
	env.elems = []int8{1}

	a := OpenByteArray(env, 0x10)
	a.Close()
	a.Close()

	assert.Equal(t, 1, env.count("ReleaseBufferData"))
	assert.Equal(t, []ffibridge.ReleaseMode{ffibridge.ReleaseAbort}, env.modes)
}

func TestByteArray_NilAcquireReleasesNothing(t *testing.T) {
	env := newRecordingEnv()

	a := OpenByteArray(env, 0x10)
	assert.Equal(t, 0, a.Len())
	a.Close()
	assert.Equal(t, 0, env.count("ReleaseBufferData"))
}

func TestWithByteArray_Panic(t *testing.T) {
	vm := newVM(t)
	env := attach(t, vm, 1)
	ref := env.NewByteArray([]byte("abc"))

	assert.Panics(t, func() {
		_ = WithByteArray(env, ref, func(a *ByteArray) error {
			_ = a.Elements()[a.Len()]
			return nil
		})
	})
	assert.Equal(t, 0, vm.Stats().Pins)
	assert.Empty(t, vm.Violations())

	var sum int
	require.NoError(t, WithByteArray(env, ref, func(a *ByteArray) error {
		for _, b := range a.Bytes() {
			sum += int(b)
		}
		return nil
	}))
	assert.Equal(t, int('a'+'b'+'c'), sum)
	assert.Equal(t, 0, vm.Stats().Pins)
}

type modeEnv struct {
	*recordingEnv
	modes []ffibridge.ReleaseMode
}

func (e *modeEnv) ReleaseBufferData(a ffibridge.Ref, elems []int8, mode ffibridge.ReleaseMode) {
	e.modes = append(e.modes, mode)
	e.recordingEnv.ReleaseBufferData(a, elems, mode)
}
