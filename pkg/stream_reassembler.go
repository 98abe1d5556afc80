package protocol

import "github.com/google/btree"

// EarlyArrival is a run of bytes received ahead of the write frontier.
type EarlyArrival struct {
	Index uint64 // absolute stream index of Data[0]
	Data  []byte
}

func (e EarlyArrival) end() uint64 { return e.Index + uint64(len(e.Data)) }

func earlyArrivalLess(a, b EarlyArrival) bool { return a.Index < b.Index }

// StreamReassembler assembles possibly out-of-order, possibly overlapping
// substrings into its output stream. Its capacity bounds the unread bytes in
// the output plus the bytes still waiting to be assembled.
type StreamReassembler struct {
	output        *ByteStream
	capacity      int
	earlyArrivals *btree.BTreeG[EarlyArrival] // keyed by Index, never overlapping
	eofIndex      uint64
	eofKnown      bool
}

func NewStreamReassembler(capacity int) *StreamReassembler {
	return &StreamReassembler{
		output:        NewByteStream(capacity),
		capacity:      capacity,
		earlyArrivals: btree.NewG(2, earlyArrivalLess),
	}
}

func (r *StreamReassembler) StreamOut() *ByteStream { return r.output }

// PushSubstring accepts data whose first byte sits at absolute index. eof
// marks the last byte of data as the last byte of the stream. Bytes outside
// the current window are dropped.
func (r *StreamReassembler) PushSubstring(data []byte, index uint64, eof bool) {
	frontier := r.output.BytesWritten()
	windowEnd := r.output.BytesRead() + uint64(r.capacity)

	start := index
	end := index + uint64(len(data))
	if eof && end <= windowEnd {
		r.eofIndex = end
		r.eofKnown = true
	}
	if start < frontier {
		start = frontier
	}
	if end > windowEnd {
		end = windowEnd
	}
	if start < end {
		r.store(start, data[start-index:end-index])
	}

	r.release()

	if r.eofKnown && r.output.BytesWritten() >= r.eofIndex && !r.output.InputEnded() {
		r.output.EndInput()
	}
}

// store merges [start, start+len(data)) with any pending run it overlaps or abuts.
func (r *StreamReassembler) store(start uint64, data []byte) {
	end := start + uint64(len(data))
	lo, hi := start, end
	var absorbed []EarlyArrival

	covered := false
	r.earlyArrivals.DescendLessOrEqual(EarlyArrival{Index: start}, func(prev EarlyArrival) bool {
		if prev.end() >= end {
			covered = true
		} else if prev.end() >= start {
			lo = prev.Index
			absorbed = append(absorbed, prev)
		}
		return false
	})
	if covered {
		return
	}
	r.earlyArrivals.AscendGreaterOrEqual(EarlyArrival{Index: start + 1}, func(next EarlyArrival) bool {
		if next.Index > end {
			return false
		}
		absorbed = append(absorbed, next)
		hi = max(hi, next.end())
		return true
	})

	merged := EarlyArrival{Index: lo, Data: make([]byte, hi-lo)}
	for _, old := range absorbed {
		copy(merged.Data[old.Index-lo:], old.Data)
		r.earlyArrivals.Delete(old)
	}
	copy(merged.Data[start-lo:], data)
	r.earlyArrivals.ReplaceOrInsert(merged)
}

// release writes every run that has become contiguous with the frontier.
func (r *StreamReassembler) release() {
	for {
		first, ok := r.earlyArrivals.Min()
		frontier := r.output.BytesWritten()
		if !ok || first.Index > frontier {
			return
		}
		r.earlyArrivals.DeleteMin()
		if first.end() > frontier {
			r.output.Write(first.Data[frontier-first.Index:])
		}
	}
}

// UnassembledBytes counts bytes held but not yet written to the output.
func (r *StreamReassembler) UnassembledBytes() int {
	frontier := r.output.BytesWritten()
	total := 0
	r.earlyArrivals.Ascend(func(e EarlyArrival) bool {
		if e.Index >= frontier {
			total += len(e.Data)
		}
		return true
	})
	return total
}

func (r *StreamReassembler) Empty() bool {
	return r.UnassembledBytes() == 0
}
