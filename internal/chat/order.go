package chat

import (
	"sort"

	"github.com/lmoretti/filo/internal/domain"
)

// entry is one message plus its local ordering metadata. seq is the local
// submission sequence for messages sent from this session (0 for everything
// else); sortTs is the render-only timestamp used for ordering.
type entry struct {
	msg    domain.Message
	seq    int64
	sortTs int64
}

// orderEntries produces the rendered list. Canonical order is timestamp
// then id; messages submitted from this session keep their submission order
// even when server timestamps came back inverted, and unacknowledged ones
// sort after the last acknowledged local entry.
func orderEntries(entries []entry) []domain.Message {
	// Clamp local entries' sort timestamps to be monotonic in submission
	// order. Acknowledged entries carry their server timestamp as a base;
	// provisional ones carry the client clock at creation.
	local := make([]*entry, 0, len(entries))
	for i := range entries {
		if entries[i].seq > 0 {
			local = append(local, &entries[i])
		}
	}
	sort.Slice(local, func(i, j int) bool { return local[i].seq < local[j].seq })
	var prev int64
	for _, e := range local {
		if e.sortTs <= prev {
			e.sortTs = prev + 1
		}
		prev = e.sortTs
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.sortTs != b.sortTs {
			return a.sortTs < b.sortTs
		}
		if a.seq > 0 && b.seq > 0 {
			return a.seq < b.seq
		}
		return a.msg.ID < b.msg.ID
	})

	out := make([]domain.Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}
