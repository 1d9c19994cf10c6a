package shard

import "github.com/pavelkim/flowprobe/internal/flow"

const (
	initialBucketCapacity = 10
	minBucketCapacity     = 10
)

// bucket is a dynamically sized run of flow.Record sharing a hash slot.
// Capacity is managed explicitly (rather than left to append's own
// growth heuristic) so it follows the ×2 grow / ÷2 shrink policy the
// probe has always used: predictable, cache-dense, and easy to reason
// about under the append-heavy capture-time workload.
type bucket struct {
	records []flow.Record
}

func (b *bucket) size() int { return len(b.records) }

func (b *bucket) find(k flow.Key) int {
	for i := range b.records {
		if b.records[i].Key.Equal(k) {
			return i
		}
	}
	return -1
}

// append inserts r, growing the backing array if it is full.
func (b *bucket) append(r flow.Record) {
	if b.records == nil {
		b.records = make([]flow.Record, 0, initialBucketCapacity)
	} else if len(b.records) == cap(b.records) {
		b.grow()
	}
	b.records = append(b.records, r)
}

func (b *bucket) grow() {
	newCap := cap(b.records) * 2
	grown := make([]flow.Record, len(b.records), newCap)
	copy(grown, b.records)
	b.records = grown
}

// removeAt evicts the record at index i by swapping in the last record
// of the bucket and truncating, then shrinks the backing array if it has
// become mostly empty.
func (b *bucket) removeAt(i int) {
	last := len(b.records) - 1
	b.records[i] = b.records[last]
	b.records = b.records[:last]
	b.maybeShrink()
}

// maybeShrink halves capacity when the bucket is less than half full, as
// long as the halved capacity is still at least minBucketCapacity *and*
// still large enough to hold every live record; see DESIGN.md.
func (b *bucket) maybeShrink() {
	c := cap(b.records)
	if len(b.records) >= c/2 {
		return
	}
	newCap := c / 2
	if newCap < minBucketCapacity {
		return
	}
	if newCap < len(b.records) {
		return
	}
	shrunk := make([]flow.Record, len(b.records), newCap)
	copy(shrunk, b.records)
	b.records = shrunk
}
