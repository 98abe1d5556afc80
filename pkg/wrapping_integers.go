package protocol

import "github.com/google/netstack/tcpip/seqnum"

// Wrap converts an absolute 64-bit stream index into the 32-bit sequence
// number carried on the wire.
func Wrap(n uint64, isn seqnum.Value) seqnum.Value {
	return isn.Add(seqnum.Size(uint32(n)))
}

// Unwrap returns the absolute index that wraps to n and is closest to
// checkpoint. Each direction of a connection has its own isn.
func Unwrap(n seqnum.Value, isn seqnum.Value, checkpoint uint64) uint64 {
	// distance forward from the checkpoint's own wire value, always in [0, 2^32)
	offset := uint64(Wrap(checkpoint, isn).Size(n))
	if offset < 1<<31 || checkpoint < 1<<32-offset {
		return checkpoint + offset
	}
	return checkpoint + offset - 1<<32
}
