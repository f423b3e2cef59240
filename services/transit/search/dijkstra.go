// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"container/heap"
	"context"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// criterion is a lexicographic order over path costs.
type criterion int

const (
	// byBest orders by (duration, price, transfers).
	byBest criterion = iota
	// byFastest orders by (duration, transfers, price).
	byFastest
	// byCheapest orders by (price, duration, transfers).
	byCheapest
)

// cost is the accumulated cost of a path. Price is per passenger.
type cost struct {
	duration  int
	price     float64
	transfers int
}

func (a cost) less(b cost, c criterion) bool {
	switch c {
	case byFastest:
		if a.duration != b.duration {
			return a.duration < b.duration
		}
		if a.transfers != b.transfers {
			return a.transfers < b.transfers
		}
		return a.price < b.price
	case byCheapest:
		if a.price != b.price {
			return a.price < b.price
		}
		if a.duration != b.duration {
			return a.duration < b.duration
		}
		return a.transfers < b.transfers
	default:
		if a.duration != b.duration {
			return a.duration < b.duration
		}
		if a.price != b.price {
			return a.price < b.price
		}
		return a.transfers < b.transfers
	}
}

// state identifies a search position. The last route id is part of the
// state because it decides whether the next edge is a transfer.
type state struct {
	node      string
	lastRoute string
	transfers int
}

type label struct {
	state
	cost cost
	seq  int
	edge *datatypes.Edge
	prev *label
}

type labelQueue struct {
	items []*label
	crit  criterion
}

func (q *labelQueue) Len() int { return len(q.items) }
func (q *labelQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.cost.less(b.cost, q.crit) {
		return true
	}
	if b.cost.less(a.cost, q.crit) {
		return false
	}
	return a.seq < b.seq
}
func (q *labelQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *labelQueue) Push(x any)    { q.items = append(q.items, x.(*label)) }
func (q *labelQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// shortestPath runs a label-setting Dijkstra from every origin to the
// first destination settled under crit.
//
// A transfer is counted when a non-transfer edge's route id differs from
// the previous non-transfer edge's. Transfer edges carry the previous
// route id through. Paths needing more than maxTransfers are discarded.
// Ties under crit go to the label created first; edges are visited in
// snapshot order, so results are deterministic.
//
// Returns nil when no destination is reachable.
func shortestPath(ctx context.Context, t *tables, origins, destinations []string, crit criterion, maxTransfers int) ([]datatypes.Edge, error) {
	dest := make(map[string]bool, len(destinations))
	for _, d := range destinations {
		dest[d] = true
	}

	q := &labelQueue{crit: crit}
	best := make(map[state]cost)
	settled := make(map[state]bool)
	seq := 0

	for _, o := range origins {
		l := &label{state: state{node: o}, seq: seq}
		seq++
		best[l.state] = l.cost
		heap.Push(q, l)
	}

	for pops := 0; q.Len() > 0; pops++ {
		if pops%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cur := heap.Pop(q).(*label)
		if settled[cur.state] {
			continue
		}
		settled[cur.state] = true

		if dest[cur.node] && cur.edge != nil {
			return unwind(cur), nil
		}

		for i := range t.out[cur.node] {
			e := &t.out[cur.node][i]
			next := state{node: e.ToStopID, lastRoute: cur.lastRoute, transfers: cur.transfers}
			c := cur.cost
			if !e.Transfer {
				if cur.lastRoute != "" && e.RouteID != cur.lastRoute {
					next.transfers++
				}
				next.lastRoute = e.RouteID
				c.duration += e.DurationMin
				c.price += e.Price
			}
			if next.transfers > maxTransfers {
				continue
			}
			c.transfers = next.transfers
			if settled[next] {
				continue
			}
			if prev, ok := best[next]; ok && !c.less(prev, crit) {
				continue
			}
			best[next] = c
			heap.Push(q, &label{state: next, cost: c, seq: seq, edge: e, prev: cur})
			seq++
		}
	}
	return nil, nil
}

// unwind rebuilds the edge sequence ending at l, dropping trailing
// transfer edges.
func unwind(l *label) []datatypes.Edge {
	var rev []datatypes.Edge
	for ; l != nil && l.edge != nil; l = l.prev {
		rev = append(rev, *l.edge)
	}
	path := make([]datatypes.Edge, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	for len(path) > 0 && path[len(path)-1].Transfer {
		path = path[:len(path)-1]
	}
	return path
}
