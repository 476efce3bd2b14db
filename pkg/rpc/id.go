package rpc

import (
	"strconv"
	"sync/atomic"
)

// MaxID is the bound at which generated ids wrap back to 1. It matches the
// largest integer a float64 represents exactly, so ids survive any client.
const MaxID = 1<<53 - 1

// IDGenerator hands out request ids for one engine instance. Ids increase
// monotonically and wrap at MaxID. The zero value is ready to use.
type IDGenerator struct {
	last atomic.Uint64
}

// Next returns the next id.
func (g *IDGenerator) Next() string {
	for {
		last := g.last.Load()
		next := last%MaxID + 1
		if g.last.CompareAndSwap(last, next) {
			return strconv.FormatUint(next, 10)
		}
	}
}

// Reset sets the generator so that the next id is start+1.
func (g *IDGenerator) Reset(start uint64) {
	g.last.Store(start % MaxID)
}
