// Package classctx stands in for NiFi's per-thread context class loader
// swap. Go has no per-goroutine class loader, so a plug-in's "resource
// namespace" (which extension bundle it was loaded from) is carried as a
// scoped value on an atomic slot instead of on the goroutine: every plug-in
// entry point (construction, trigger, lifecycle hook) must call Enter
// before running plug-in code and the returned restore func on every exit
// path, including panics, so the previous namespace is unconditionally
// restored.
package classctx

import "sync/atomic"

var current atomic.Value // string

func init() {
	current.Store("")
}

// Current returns the namespace installed by the innermost active Enter,
// or "" if none is active.
func Current() string {
	return current.Load().(string)
}

// Enter installs namespace as current and returns a function that restores
// whatever was current before. Callers must invoke the returned function
// via defer so restoration happens on every exit path:
//
//	restore := classctx.Enter(bundleID)
//	defer restore()
func Enter(namespace string) (restore func()) {
	previous := current.Load().(string)
	current.Store(namespace)
	return func() {
		current.Store(previous)
	}
}
