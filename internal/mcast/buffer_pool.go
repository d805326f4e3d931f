package mcast

import (
	"sync"

	"github.com/corvidae/resonate/internal/protocol"
)

// bufferPool reuses MaxMulticastPacketSize-capacity receive buffers across
// every socket entry, avoiding a fresh allocation on every inbound datagram.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, protocol.MaxMulticastPacketSize)
		return &buf
	},
}

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// putBuffer zeroes the buffer before returning it to the pool so a later
// borrower never observes a prior datagram's bytes.
func putBuffer(bufPtr *[]byte) {
	buf := *bufPtr
	for i := range buf {
		buf[i] = 0
	}
	bufferPool.Put(bufPtr)
}
