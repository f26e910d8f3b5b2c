package scheduler

import (
	"context"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Func is a schedulable function. args and kwargs are the values captured at
// the registering call, decoded from JSON (numbers arrive as float64).
// The result is stored as the row's message via fmt.Sprint; nil stores no message.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry maps stable function identities to callables. It is populated
// before the scheduler starts and read by the executor.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// Add binds path to fn. A later Add for the same path wins.
func (r *Registry) Add(path string, fn Func) {
	r.mu.Lock()
	r.funcs[path] = fn
	r.mu.Unlock()
}

// Resolve returns the function bound to path or a *ResolutionError.
func (r *Registry) Resolve(path string) (Func, error) {
	r.mu.RLock()
	fn, ok := r.funcs[path]
	r.mu.RUnlock()
	if !ok || fn == nil {
		return nil, &ResolutionError{FuncPath: path}
	}
	return fn, nil
}

// Paths lists registered identities in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.funcs))
	for p := range r.funcs {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// FuncPath derives "package.Name" for a named function, e.g. "demo.Ping".
// Methods keep their receiver ("demo.(*Jobs).Ping"). Closures get
// compiler-generated names such as "demo.init.func1"; give those an
// explicit identity with WithName.
func FuncPath(fn any) string {
	if fn == nil {
		return ""
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return ""
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return ""
	}
	full := rf.Name()
	// Keep only the last import path element: "pinetick/internal/demo.Ping" -> "demo.Ping".
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}
