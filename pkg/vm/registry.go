package vm

import (
	"fmt"
	"slices"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
)

// NativeFunc implements a host function. It returns the function's result;
// void functions return Void.
type NativeFunc func(c *Call) (Value, error)

// HostFunc is a registered host function.
type HostFunc struct {
	bytecode.Import
	Fn NativeFunc
}

// Registry maps host function names to signatures and natives. It is built once,
// before any script that calls into it is compiled, and injected into both the
// compiler (as builder.Signatures) and the runtime. Names are case-insensitive.
// Registration order is preserved.
type Registry struct {
	funcs []*HostFunc
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds a host function. Registering a name twice is an error.
func (r *Registry) Register(name string, ret bytecode.Kind, params []bytecode.Kind, fn NativeFunc) error {
	if name == "" {
		return fmt.Errorf("host function name is empty")
	}
	if fn == nil {
		return fmt.Errorf("host function %q has no implementation", name)
	}
	key := bytecode.FoldName(name)
	if _, ok := r.index[key]; ok {
		return fmt.Errorf("host function %q already registered", name)
	}
	if ret > bytecode.String {
		return fmt.Errorf("host function %q: invalid return kind %s", name, ret)
	}
	for i, p := range params {
		if p == bytecode.Void || p > bytecode.String {
			return fmt.Errorf("host function %q: invalid kind %s for parameter %d", name, p, i+1)
		}
	}

	r.index[key] = len(r.funcs)
	r.funcs = append(r.funcs, &HostFunc{
		Import: bytecode.Import{Name: name, Return: ret, Params: slices.Clone(params)},
		Fn:     fn,
	})
	return nil
}

// MustRegister is Register that panics on error, for static tables.
func (r *Registry) MustRegister(name string, ret bytecode.Kind, params []bytecode.Kind, fn NativeFunc) {
	if err := r.Register(name, ret, params, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the import descriptor for name. It satisfies builder.Signatures.
func (r *Registry) Lookup(name string) (bytecode.Import, bool) {
	f, ok := r.Func(name)
	if !ok {
		return bytecode.Import{}, false
	}
	return f.Import, true
}

// Func returns the registered host function for name.
func (r *Registry) Func(name string) (*HostFunc, bool) {
	i, ok := r.index[bytecode.FoldName(name)]
	if !ok {
		return nil, false
	}
	return r.funcs[i], true
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.funcs))
	for i, f := range r.funcs {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return len(r.funcs)
}

// Resolve binds every import of s to a registered host function, indexed like
// s.Imports. Compiled assets can reference functions the registry lacks or
// declares differently; both are reported together.
func (r *Registry) Resolve(s *bytecode.Script) ([]*HostFunc, error) {
	natives := make([]*HostFunc, len(s.Imports))
	var rerr *HostResolutionError
	for i, imp := range s.Imports {
		f, ok := r.Func(imp.Name)
		switch {
		case !ok:
			rerr = hostError(rerr, s.Name)
			rerr.Missing = append(rerr.Missing, imp.Name)
		case f.Return != imp.Return || !slices.Equal(f.Params, imp.Params):
			rerr = hostError(rerr, s.Name)
			rerr.Mismatched = append(rerr.Mismatched, fmt.Sprintf("%s (registered %s)", imp.Signature(), f.Signature()))
		default:
			natives[i] = f
		}
	}
	if rerr != nil {
		return nil, rerr
	}
	return natives, nil
}

func hostError(e *HostResolutionError, script string) *HostResolutionError {
	if e == nil {
		return &HostResolutionError{Script: script}
	}
	return e
}

// Bind registers every import in decls that the registry does not know yet,
// using fn as the native. Names already registered must declare the same
// signature. It lets offline tools compile against a manifest of signatures.
func (r *Registry) Bind(decls []bytecode.Import, fn NativeFunc) error {
	for _, d := range decls {
		if f, ok := r.Func(d.Name); ok {
			if f.Return != d.Return || !slices.Equal(f.Params, d.Params) {
				return fmt.Errorf("host function %s conflicts with registered %s", d.Signature(), f.Signature())
			}
			continue
		}
		if err := r.Register(d.Name, d.Return, d.Params, fn); err != nil {
			return err
		}
	}
	return nil
}
