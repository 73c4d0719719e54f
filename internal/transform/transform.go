// Package transform holds per-event rewrites applied between decoding and
// re-encoding.
package transform

import "github.com/edm/edm/pkg/edm"

// Func rewrites one event. Returning a nil event with a nil error filters
// the event out; returning an error fails that record only.
type Func func(*edm.Event) (*edm.Event, error)

// Identity returns the event unchanged.
func Identity(ev *edm.Event) (*edm.Event, error) { return ev, nil }

// Chain applies fs in order, stopping at the first error or filtered event.
// Nil entries are skipped.
func Chain(fs ...Func) Func {
	return func(ev *edm.Event) (*edm.Event, error) {
		var err error
		for _, f := range fs {
			if f == nil {
				continue
			}
			if ev, err = f(ev); err != nil || ev == nil {
				return nil, err
			}
		}
		return ev, nil
	}
}
