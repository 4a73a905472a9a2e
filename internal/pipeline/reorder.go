package pipeline

import "github.com/mitrokun/wyoming-supertonic/internal/engine"

// reorderBuffer holds completed-but-unreleased results and releases the
// longest contiguous prefix by unit index, starting at first. Inference may
// complete out of order; delivery never does.
type reorderBuffer struct {
	next    int
	pending map[int]*engine.AudioResult
}

func newReorderBuffer(first int) *reorderBuffer {
	return &reorderBuffer{next: first, pending: make(map[int]*engine.AudioResult)}
}

// put stores one completed result and returns every result that is now
// releasable, in index order.
func (b *reorderBuffer) put(res *engine.AudioResult) []*engine.AudioResult {
	b.pending[res.UnitIndex] = res
	var out []*engine.AudioResult
	for {
		r, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		b.next++
		out = append(out, r)
	}
}

// held reports how many results are buffered out of order.
func (b *reorderBuffer) held() int {
	return len(b.pending)
}
