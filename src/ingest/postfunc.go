package ingest

import (
	"math"
	"sync"
)

// -----------------------------------------------------------------------------
// Post-processing functions: registered Go functions selected by name from
// a data key's configuration, applied to every incoming sample.
// -----------------------------------------------------------------------------

// PostFunc transforms one sample. prevValue is the previously processed value
// of the same key, 0 for the first sample.
type PostFunc func(ts int64, value, prevValue float64) float64

var (
	postFuncMu sync.RWMutex
	postFuncs  = map[string]PostFunc{
		"abs": func(ts int64, value, prev float64) float64 {
			return math.Abs(value)
		},
		"delta": func(ts int64, value, prev float64) float64 {
			return value - prev
		},
	}
)

// -----------------------------------------------------------------------------

// RegisterPostFunc makes a post function available to data keys by name.
// Re-registering a name replaces the previous function.
func RegisterPostFunc(name string, fn PostFunc) {
	postFuncMu.Lock()
	defer postFuncMu.Unlock()
	postFuncs[name] = fn
}

// LookupPostFunc returns the registered function for a name.
func LookupPostFunc(name string) (PostFunc, bool) {
	postFuncMu.RLock()
	defer postFuncMu.RUnlock()
	fn, ok := postFuncs[name]
	return fn, ok
}
