// Package queryslot implements the fixed-capacity outstanding-query table
// described in SPEC_FULL.md §4.3: a pre-allocated array of slots linked
// into two intrusive, index-based doubly-linked lists (active and free),
// ported from original_source/madns.c's QLINK/qinit/qpush/qpull and QUERY
// struct. No slot is ever heap-allocated individually and no pointer ever
// escapes the table — callers address a query by its integer index.
package queryslot

import (
	"math/rand"
	"time"
)

const none = -1

// Slot holds everything the dispatcher needs to remember about one
// outstanding query.
type Slot struct {
	inUse   bool
	Ctx     any
	Name    string
	TID     uint16
	Server  int
	Started time.Time
	Expires int64 // unix seconds

	next, prev int32
}

// Table is the fixed-size pool of query slots.
type Table struct {
	slots  []Slot
	qsize  int
	reqCap int // floor(32767/qsize), the valid range for the TID multiplier

	activeHead, activeTail int32
	freeHead                int32
	nfree                   int

	rnd *rand.Rand
}

// New allocates a table with qsize slots, all initially free. qsize must
// already be validated (servertable.Len() * servertable.ServerReqs(),
// itself bounded to [2,32767] by the caller per SPEC_FULL.md §4.3).
func New(qsize int) *Table {
	t := &Table{
		slots:      make([]Slot, qsize),
		qsize:      qsize,
		reqCap:     32767 / qsize,
		activeHead: none,
		activeTail: none,
		freeHead:   none,
		nfree:      qsize,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := qsize - 1; i >= 0; i-- {
		t.slots[i].next = t.freeHead
		t.slots[i].prev = none
		if t.freeHead != none {
			t.slots[t.freeHead].prev = int32(i)
		}
		t.freeHead = int32(i)
	}
	return t
}

// Ready reports how many slots are free, i.e. how many new requests can be
// admitted right now.
func (t *Table) Ready() int { return t.nfree }

// QSize returns the table's fixed capacity.
func (t *Table) QSize() int { return t.qsize }

// Alloc pops a slot off the free list, assigns it a transaction ID, and
// pushes it onto the tail of the active list. Expires starts at zero,
// meaning "not yet sent"; the caller sets a real deadline via SetExpires
// only once a send actually succeeds, matching
// original_source/madns.c's send_request (which leaves expires at 0 if
// every upstream was saturated, so the slot counts as already overdue and
// is reaped once it reaches the head of the active list rather than being
// retried).
//
// Since every query that DOES get sent uses the same fixed timeout
// duration, appending at the tail keeps the active list sorted by
// ascending expiry for the common case without a separate ordering step.
func (t *Table) Alloc(ctx any, name string, started time.Time) (idx int, tid uint16, ok bool) {
	if t.freeHead == none {
		return 0, 0, false
	}
	idx = int(t.freeHead)
	t.freeHead = t.slots[idx].next
	if t.freeHead != none {
		t.slots[t.freeHead].prev = none
	}
	t.nfree--

	tid = t.newTID(idx)

	t.slots[idx] = Slot{
		inUse:   true,
		Ctx:     ctx,
		Name:    name,
		TID:     tid,
		Server:  -1,
		Started: started,
		Expires: 0,
		next:    none,
		prev:    t.activeTail,
	}

	if t.activeTail != none {
		t.slots[t.activeTail].next = int32(idx)
	} else {
		t.activeHead = int32(idx)
	}
	t.activeTail = int32(idx)
	return idx, tid, true
}

// SetExpires stamps idx's deadline once a send has actually gone out.
func (t *Table) SetExpires(idx int, expires time.Time) {
	if s := t.Get(idx); s != nil {
		s.Expires = expires.Unix()
	}
}

// SetServer records which upstream a query was sent to, so Release can
// later credit/debit that server's in-flight count and latency.
func (t *Table) SetServer(idx int, server int) {
	if s := t.Get(idx); s != nil {
		s.Server = server
	}
}

// newTID builds tid = idx + qsize*r, r uniformly random in [1, reqCap].
// reqCap is always >= 1 because qsize is bounded to <= 32767 by the
// caller (servertable.New clamps server_reqs so qsize = nservers*server_reqs
// never exceeds that).
func (t *Table) newTID(idx int) uint16 {
	cap := t.reqCap
	if cap < 1 {
		cap = 1
	}
	r := 1 + t.rnd.Intn(cap)
	return uint16(idx + t.qsize*r)
}

// SlotForTID returns the slot index a TID maps to, without checking
// whether that slot is actually in use or whether its TID still matches
// (callers must check both before trusting a match).
func (t *Table) SlotForTID(tid uint16) int {
	return int(tid) % t.qsize
}

// Get returns a pointer to slot idx's data, or nil if idx is free or out
// of range.
func (t *Table) Get(idx int) *Slot {
	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].inUse {
		return nil
	}
	return &t.slots[idx]
}

// Free removes slot idx from the active list (wherever it sits) and
// returns it to the free list. Safe to call on any in-use index, not just
// the active head, because matching a response by TID can land anywhere
// in the list.
func (t *Table) Free(idx int) {
	s := &t.slots[idx]
	if !s.inUse {
		return
	}

	if s.prev != none {
		t.slots[s.prev].next = s.next
	} else {
		t.activeHead = s.next
	}
	if s.next != none {
		t.slots[s.next].prev = s.prev
	} else {
		t.activeTail = s.prev
	}

	*s = Slot{inUse: false, next: t.freeHead, prev: none}
	if t.freeHead != none {
		t.slots[t.freeHead].prev = int32(idx)
	}
	t.freeHead = int32(idx)
	t.nfree++
}

// Head returns the index of the earliest-expiring active query.
func (t *Table) Head() (idx int, ok bool) {
	if t.activeHead == none {
		return 0, false
	}
	return int(t.activeHead), true
}

// Active returns every currently outstanding slot index, in expiry order,
// for diagnostics (Dump) and Cancel's linear ctx scan.
func (t *Table) Active() []int {
	out := make([]int, 0, t.qsize-t.nfree)
	for i := t.activeHead; i != none; i = t.slots[i].next {
		out = append(out, int(i))
	}
	return out
}
