package rtpsession

import (
	"container/heap"
	"time"

	"github.com/pion/rtp"
)

// jitterBuffer is a min-heap-ordered buffer that reorders out-of-sequence
// packets (spec §4.2). It does not pace playout: Pop releases the next
// in-sequence packet whenever it is called. The heap-by-sequence structure mirrors the teacher
// repo's pkg/media/jitter_buffer.go, which orders by RTP timestamp in a
// container/heap min-heap; this buffer orders by sequence number instead
// since gap/loss detection (spec's reorder-window) is naturally a sequence
// concept.
type jitterBuffer struct {
	minDelay time.Duration
	maxDelay time.Duration
	reorderWindow int

	items        packetHeap
	nextToEmit   uint16
	haveNext     bool
	currentDelay time.Duration

	packetsLost  uint32
	declaredLost map[uint16]bool
	lastPopTime  time.Time
}

type bufferedPacket struct {
	pkt     *rtp.Packet
	arrival time.Time
	index   int
}

type packetHeap []*bufferedPacket

func (h packetHeap) Len() int { return len(h) }
func (h packetHeap) Less(i, j int) bool {
	return seqLess(h[i].pkt.SequenceNumber, h[j].pkt.SequenceNumber)
}
func (h packetHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *packetHeap) Push(x any) {
	item := x.(*bufferedPacket)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// seqLess compares RTP sequence numbers with 16-bit wraparound semantics.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

func newJitterBuffer(minDelay, maxDelay time.Duration, reorderWindow int) *jitterBuffer {
	jb := &jitterBuffer{
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		reorderWindow: reorderWindow,
		currentDelay:  minDelay,
		declaredLost:  make(map[uint16]bool),
	}
	heap.Init(&jb.items)
	return jb
}

// Insert adds a received packet to the buffer. When a gap beyond
// reorderWindow is detected ahead of the buffer's playout cursor, the gap is
// declared lost and onLoss (the PLC hook) is invoked once per lost sequence.
func (jb *jitterBuffer) Insert(pkt *rtp.Packet, arrival time.Time, onLoss func(seq uint16)) {
	if !jb.haveNext {
		jb.nextToEmit = pkt.SequenceNumber
		jb.haveNext = true
	}
	heap.Push(&jb.items, &bufferedPacket{pkt: pkt, arrival: arrival})

	// Target delay: fixed at 2x minDelay once two packets are buffered,
	// clamped to [minDelay, maxDelay]. Observed jitter is not consulted,
	// and Pop does not read currentDelay.
	if len(jb.items) > 1 {
		target := jb.minDelay * 2
		if target > jb.maxDelay {
			target = jb.maxDelay
		}
		if target < jb.minDelay {
			target = jb.minDelay
		}
		jb.currentDelay = target
	}

	if int16(pkt.SequenceNumber-jb.nextToEmit) > int16(jb.reorderWindow) && onLoss != nil {
		for seq := jb.nextToEmit; seqLess(seq, pkt.SequenceNumber); seq++ {
			// A seq already sitting in the heap arrived out of order, not
			// lost; a seq already reported stays reported exactly once,
			// however many later inserts re-cross the reorder window.
			if jb.declaredLost[seq] || jb.bufferedSeq(seq) {
				continue
			}
			jb.declaredLost[seq] = true
			onLoss(seq)
			jb.packetsLost++
		}
	}
}

// bufferedSeq reports whether seq is currently held in the heap, i.e.
// already received and only awaiting playout.
func (jb *jitterBuffer) bufferedSeq(seq uint16) bool {
	for _, item := range jb.items {
		if item.pkt.SequenceNumber == seq {
			return true
		}
	}
	return false
}

// Pop releases the next in-sequence packet if it is buffered, or skips a
// sequence number declared lost beyond the reorder window; now is only
// recorded, never compared with a playout time. Property: the emitted sequence is a non-decreasing subsequence of
// received sequences (spec testable property 9).
func (jb *jitterBuffer) Pop(now time.Time) (*rtp.Packet, bool) {
	if jb.items.Len() == 0 {
		return nil, false
	}
	top := jb.items[0]
	// Sequences already declared lost during Insert are never going to
	// arrive; walk the cursor past them without re-applying the reorder
	// window check (that decision was already made).
	for jb.declaredLost[jb.nextToEmit] && jb.nextToEmit != top.pkt.SequenceNumber {
		delete(jb.declaredLost, jb.nextToEmit)
		jb.nextToEmit++
	}
	if top.pkt.SequenceNumber != jb.nextToEmit {
		gap := int16(top.pkt.SequenceNumber - jb.nextToEmit)
		if gap > int16(jb.reorderWindow) {
			// Declared lost: skip ahead rather than wait forever.
			jb.nextToEmit = top.pkt.SequenceNumber
		} else {
			return nil, false
		}
	}
	heap.Pop(&jb.items)
	jb.nextToEmit = top.pkt.SequenceNumber + 1
	jb.lastPopTime = now
	return top.pkt, true
}

// Depth reports the number of packets currently buffered.
func (jb *jitterBuffer) Depth() int { return jb.items.Len() }

// LostCount reports the cumulative number of sequence numbers declared lost.
func (jb *jitterBuffer) LostCount() uint32 { return jb.packetsLost }
