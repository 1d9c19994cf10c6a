// Package shard implements the per-worker chained hash table that holds
// a contiguous slice of the global flow hash space. Exactly one worker
// goroutine ever touches a given Table, so the type carries no locks.
package shard

import "github.com/pavelkim/flowprobe/internal/flow"

// Table is one worker's shard of the global flow hash space.
type Table struct {
	buckets        []bucket
	bucketCount    uint32
	maxActiveFlows uint32
	activeFlows    uint32
	idleTimeout    int64
	lifetimeTimeout int64

	// lasti/lastj are the cursor carried across expireSweep calls so
	// incremental expiry makes steady progress across every bucket
	// instead of re-scanning from the front each time.
	lasti, lastj uint32
}

// New builds a shard with bucketCount buckets. idleTimeout and
// lifetimeTimeout are in seconds.
func New(bucketCount, maxActiveFlows uint32, idleTimeout, lifetimeTimeout int64) *Table {
	return &Table{
		buckets:         make([]bucket, bucketCount),
		bucketCount:     bucketCount,
		maxActiveFlows:  maxActiveFlows,
		idleTimeout:     idleTimeout,
		lifetimeTimeout: lifetimeTimeout,
	}
}

// ActiveFlows returns the number of live records currently held.
func (t *Table) ActiveFlows() uint32 { return t.activeFlows }

// UpsertBatch applies a batch of freshly-parsed records (each carrying a
// precomputed HashID) to the shard: existing flows are updated in place,
// new ones are inserted. If insertion brings the shard to
// maxActiveFlows, a full unbounded flush runs synchronously before the
// call returns, so the shard never holds more than maxActiveFlows
// records across upsert calls.
func (t *Table) UpsertBatch(incoming []flow.Record, expiredOut *[]flow.Record) {
	for i := range incoming {
		t.upsertOne(&incoming[i], expiredOut)
	}
}

func (t *Table) upsertOne(in *flow.Record, expiredOut *[]flow.Record) {
	bi := in.HashID % t.bucketCount
	b := &t.buckets[bi]

	if idx := b.find(in.Key); idx >= 0 {
		existing := &b.records[idx]
		existing.Packets++
		existing.Octets += in.Octets
		existing.Last = in.First
		existing.TCPFlags |= in.TCPFlags
		return
	}

	in.Last = in.First
	in.Packets = 1
	b.append(*in)
	t.activeFlows++

	if t.activeFlows == t.maxActiveFlows {
		t.flushLocked(expiredOut)
	}
}

// ExpireSweep walks up to n records starting from the carried cursor,
// moving any that are expired (per flow.Record.Expired, evaluated at
// wall-clock second `now`) into expiredOut. n < 0 means unbounded: the
// whole shard is visited once. ExpireSweep(0, ...) is a no-op that does
// not move the cursor.
func (t *Table) ExpireSweep(n int64, expiredOut *[]flow.Record, now int64) {
	t.sweep(n, expiredOut, now, false)
}

// Flush moves every record in the shard into expiredOut, unconditionally.
func (t *Table) Flush(expiredOut *[]flow.Record) {
	t.flushLocked(expiredOut)
}

func (t *Table) flushLocked(expiredOut *[]flow.Record) {
	t.sweep(-1, expiredOut, 0, true)
}

// sweep is the shared cursor-walking implementation behind ExpireSweep
// and Flush. force=true treats every record as expired, matching the
// "now == null" clause of the original algorithm used both by flush()
// and by the saturation-triggered emergency sweep inside upsertOne.
func (t *Table) sweep(n int64, expiredOut *[]flow.Record, now int64, force bool) {
	if t.bucketCount == 0 {
		return
	}
	unbounded := n < 0
	var visited int64
	var linesChecked uint32

	for {
		if !unbounded && visited >= n {
			return
		}
		if linesChecked > t.bucketCount {
			return
		}

		b := &t.buckets[t.lasti]
		if int(t.lastj) >= b.size() {
			t.lasti = (t.lasti + 1) % t.bucketCount
			t.lastj = 0
			linesChecked++
			continue
		}

		rec := &b.records[t.lastj]
		expired := force || rec.Expired(now, t.idleTimeout, t.lifetimeTimeout)
		if !unbounded {
			visited++
		}

		if !expired {
			t.lastj++
			continue
		}

		*expiredOut = append(*expiredOut, *rec)
		b.removeAt(int(t.lastj))
		t.activeFlows--
		// cursor stays at lastj: the swapped-in record now occupies this slot.
	}
}
