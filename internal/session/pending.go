package session

import (
	"sort"

	"github.com/luciancaetano/pinion"
)

// pendingRequest is one request awaiting its response.
type pendingRequest struct {
	ID    uint64
	Route string
	Codec string
	cb    pinion.ResponseFunc
}

// pendingTable tracks in-flight requests by id. It is owned by the session executor
// and not locked.
//
// routes maps every request id to the route it was sent on, since responses carry no
// route. It is kept separately from items so a response can be routed even when its
// callback slot is gone.
type pendingTable struct {
	items  map[uint64]pendingRequest
	routes map[uint64]string
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items:  make(map[uint64]pendingRequest),
		routes: make(map[uint64]string),
	}
}

func (p *pendingTable) add(item pendingRequest) {
	p.items[item.ID] = item
	p.routes[item.ID] = item.Route
}

// takeRoute removes and returns the route recorded for id.
func (p *pendingTable) takeRoute(id uint64) (string, bool) {
	route, ok := p.routes[id]
	if ok {
		delete(p.routes, id)
	}
	return route, ok
}

// take removes and returns the pending request for id.
func (p *pendingTable) take(id uint64) (pendingRequest, bool) {
	item, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return item, ok
}

func (p *pendingTable) remove(id uint64) {
	delete(p.items, id)
	delete(p.routes, id)
}

func (p *pendingTable) len() int {
	return len(p.items)
}

// ids returns the pending ids in ascending order.
func (p *pendingTable) ids() []uint64 {
	out := make([]uint64, 0, len(p.items))
	for id := range p.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
