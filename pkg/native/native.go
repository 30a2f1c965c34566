// Package native implements the Native ABI of spec.md §4.8: the contract
// by which the host publishes callbacks and Flow programs call into
// them. Grounded on
// _examples/original_source/src/xzero-flow/vm/Runtime.h (Signature/
// NativeCallback/Runtime shape) and on flowa's builtin-registration
// style (senapati484-flowa/pkg/eval/eval.go's NewEnvironment(), which
// registers dozens of builtins by name at startup) for how the host
// wires concrete Go functions in as callbacks.
package native

import (
	"fmt"

	"x0d/pkg/types"
)

// Signature is the join key between the compiler and the host: a name
// plus an ordered parameter-type list and a return type. Two callables
// with the same name but different parameter types are distinct
// (spec.md §3).
type Signature struct {
	Name       string
	ReturnType types.Type
	Params     []types.Type
}

func (s Signature) String() string {
	return fmt.Sprintf("%s(%v) -> %s", s.Name, s.Params, s.ReturnType)
}

// Matches reports whether a call site's name and argument types link to
// this signature, per spec.md §3 invariant 4.
func (s Signature) Matches(name string, argTypes []types.Type) bool {
	if s.Name != name || len(argTypes) != len(s.Params) {
		return false
	}
	for i, p := range s.Params {
		if argTypes[i] != p {
			return false
		}
	}
	return true
}

// Verifier is consulted at link time for one specific call site. It may
// accept (return ok=true, rewrite=nil), reject (ok=false, err set), or
// rewrite the call to a constant-valued Value when every argument is a
// compile-time constant, per spec.md §4.4 (e.g. sys.env("X") folding).
type Verifier func(args []types.Value, allConstant bool) (rewrite *types.Value, ok bool, err error)

// Functor is the actual Go function a NativeCallback invokes. It
// receives a Params view over the call's arguments and the active
// Runner (as an opaque value to avoid an import cycle with pkg/vm) and
// returns an error only for host-side faults; Flow-visible failure is
// communicated through Params.SetResult.
type Functor func(p *Params, runner Runner) error

// Runner is the minimal surface pkg/vm.VM must expose for native
// callbacks to suspend execution, per spec.md §4.7.
type Runner interface {
	Suspend()
}

// ContextRunner is the extended surface a host-aware Runner offers: a
// per-invocation opaque value (e.g. the in-flight HTTP request/response
// pair) set by the host before VM.Run and read back by a Functor through
// a type assertion. Plain Flow-core callers that never need host state
// can ignore this and use Runner alone.
type ContextRunner interface {
	Runner
	Context() interface{}
}

// NativeCallback is one host-registered entry point, per spec.md
// "NativeCallback": a Signature, a flag marking it as a HANDLER
// (returns Boolean, may request suspension), optional per-parameter
// defaults, an optional verifier, a read-only/constant-foldable flag,
// and the functor.
type NativeCallback struct {
	Signature  Signature
	IsHandler  bool
	Defaults   []*types.Value // nil entries mean "no default"
	Verifier   Verifier
	ReadOnly   bool
	Functor    Functor
}

// Runtime is the host-side registry of native callbacks, grounded on
// Runtime.h's builtins_ vector and its contains/find/registerHandler/
// registerFunction/invoke/verifyNativeCalls API.
type Runtime struct {
	builtins []*NativeCallback
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// RegisterFunction registers a plain (non-handler) native function and
// returns it for further configuration (defaults, verifier).
func (r *Runtime) RegisterFunction(name string, retType types.Type, paramTypes []types.Type, fn Functor) *NativeCallback {
	cb := &NativeCallback{
		Signature: Signature{Name: name, ReturnType: retType, Params: paramTypes},
		Functor:   fn,
	}
	r.builtins = append(r.builtins, cb)
	return cb
}

// RegisterHandler registers a native handler: a callback that returns
// Boolean and may call the Runner passed to its Functor to suspend.
func (r *Runtime) RegisterHandler(name string, paramTypes []types.Type, fn Functor) *NativeCallback {
	cb := &NativeCallback{
		Signature: Signature{Name: name, ReturnType: types.Boolean, Params: paramTypes},
		IsHandler: true,
		Functor:   fn,
	}
	r.builtins = append(r.builtins, cb)
	return cb
}

// Contains reports whether a callback with the given name and exact
// argument types exists.
func (r *Runtime) Contains(name string, argTypes []types.Type) bool {
	return r.Find(name, argTypes) != nil
}

// Find looks up the callback matching name and exact argument types.
func (r *Runtime) Find(name string, argTypes []types.Type) *NativeCallback {
	for _, b := range r.builtins {
		if b.Signature.Matches(name, argTypes) {
			return b
		}
	}
	return nil
}

// Builtins returns every registered callback, for diagnostics and CLI
// introspection.
func (r *Runtime) Builtins() []*NativeCallback {
	return r.builtins
}

// Invoke calls the native identified by name/argTypes with the given
// arguments, marshalled into a Params view.
func (r *Runtime) Invoke(name string, argTypes []types.Type, args []types.Value, runner Runner) (types.Value, error) {
	cb := r.Find(name, argTypes)
	if cb == nil {
		return types.VoidValue(), fmt.Errorf("native: no callback registered for %s%v", name, argTypes)
	}
	p := &Params{args: args}
	if err := cb.Functor(p, runner); err != nil {
		return types.VoidValue(), err
	}
	return p.result, nil
}
