package args

import (
	"sync/atomic"

	"github.com/dshills/addonhook/internal/lifecycle/event"
)

// slotsPerType bounds how many idle instances of one type are retained.
// Nested or concurrent calls beyond this allocate and the extras are dropped
// on release.
const slotsPerType = 16

type slotPool[T any] struct {
	slots [slotsPerType]atomic.Pointer[T]
}

func (p *slotPool[T]) get(allocs *atomic.Uint64) *T {
	for i := range p.slots {
		if v := p.slots[i].Swap(nil); v != nil {
			return v
		}
	}
	allocs.Add(1)
	return new(T)
}

func (p *slotPool[T]) put(v *T) {
	for i := range p.slots {
		if p.slots[i].CompareAndSwap(nil, v) {
			return
		}
	}
}

// Pool hands out argument objects without allocating on the steady-state
// path. It is safe for concurrent use; each rented instance is exclusive to
// its renter until released.
type Pool struct {
	setup           slotPool[SetupArgs]
	update          slotPool[UpdateArgs]
	refresh         slotPool[RefreshArgs]
	requestedUpdate slotPool[RequestedUpdateArgs]
	receiveEvent    slotPool[ReceiveEventArgs]
	show            slotPool[ShowArgs]
	hide            slotPool[HideArgs]
	open            slotPool[OpenArgs]
	close           slotPool[CloseArgs]
	finalize        slotPool[FinalizeArgs]
	generic         [event.FamilyCount]slotPool[GenericArgs]

	allocs atomic.Uint64
	rents  atomic.Uint64
}

// NewPool creates an empty pool. Instances are allocated lazily.
func NewPool() *Pool {
	return &Pool{}
}

// Lease returns a rented argument object to its pool.
type Lease struct {
	pool *Pool
	args Codec
}

// Release makes the instance available for reuse. Releasing twice is a no-op.
func (l *Lease) Release() {
	if l.args == nil {
		return
	}
	a := l.args
	l.args = nil
	l.pool.put(a)
}

// Rent returns an argument object for family f. The caller must Release the
// lease once the intercepted call has finished.
func (p *Pool) Rent(f event.Family) (Codec, Lease) {
	p.rents.Add(1)

	var a Codec
	switch f {
	case event.Setup:
		a = p.setup.get(&p.allocs)
	case event.Update:
		a = p.update.get(&p.allocs)
	case event.Refresh:
		a = p.refresh.get(&p.allocs)
	case event.RequestedUpdate:
		a = p.requestedUpdate.get(&p.allocs)
	case event.ReceiveEvent:
		a = p.receiveEvent.get(&p.allocs)
	case event.Show:
		a = p.show.get(&p.allocs)
	case event.Hide:
		a = p.hide.get(&p.allocs)
	case event.Open:
		a = p.open.get(&p.allocs)
	case event.Close:
		a = p.close.get(&p.allocs)
	case event.Finalize:
		a = p.finalize.get(&p.allocs)
	default:
		g := p.generic[f].get(&p.allocs)
		g.family = f
		a = g
	}
	return a, Lease{pool: p, args: a}
}

// RentShow is Rent for event.Show with the concrete type.
func (p *Pool) RentShow() (*ShowArgs, Lease) {
	a, l := p.Rent(event.Show)
	return a.(*ShowArgs), l
}

func (p *Pool) put(a Codec) {
	a.reset()
	switch v := a.(type) {
	case *SetupArgs:
		p.setup.put(v)
	case *UpdateArgs:
		p.update.put(v)
	case *RefreshArgs:
		p.refresh.put(v)
	case *RequestedUpdateArgs:
		p.requestedUpdate.put(v)
	case *ReceiveEventArgs:
		p.receiveEvent.put(v)
	case *ShowArgs:
		p.show.put(v)
	case *HideArgs:
		p.hide.put(v)
	case *OpenArgs:
		p.open.put(v)
	case *CloseArgs:
		p.close.put(v)
	case *FinalizeArgs:
		p.finalize.put(v)
	case *GenericArgs:
		p.generic[v.family].put(v)
	}
}

// PoolStats reports pool usage.
type PoolStats struct {
	// Rents is the number of Rent calls.
	Rents uint64

	// Allocations is the number of instances created because no idle one was available.
	Allocations uint64
}

// Stats returns pool usage counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Rents:       p.rents.Load(),
		Allocations: p.allocs.Load(),
	}
}
