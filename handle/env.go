package handle

import (
	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
)

// noCopy may be embedded into structs which must not be copied after first
// use. go vet's copylocks check reports copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// currentEnv resolves the calling thread's Env. A resolver that returns
// neither an Env nor an error is treated as a failure.
func currentEnv(r ffibridge.Resolver) (ffibridge.Env, ffibridge.ThreadID, error) {
	tid := ffibridge.CurrentThread()
	if r == nil {
		return nil, tid, errors.EnvUnavailable(tid, nil)
	}
	env, err := r.Resolve(tid)
	if err != nil {
		return nil, tid, err
	}
	if env == nil {
		return nil, tid, errors.EnvUnavailable(tid, nil)
	}
	return env, tid, nil
}
