package buf

// Inspired by https://github.com/xtaci/smux/blob/master/alloc.go

import (
	"errors"
	"math/bits"
	"sync"
)

const (
	minClassBits = 6  // 64B
	maxClassBits = 16 // 64K
)

var DefaultAllocator = newDefaultAllocator()

type Allocator interface {
	Get(size int) []byte
	Put(buf []byte) error
}

type defaultAllocator struct {
	buffers [maxClassBits - minClassBits + 1]sync.Pool
}

// newDefaultAllocator returns an allocator for buffers of at most 64K whose
// capacity is always a power of two, so at most half of a buffer is wasted.
func newDefaultAllocator() Allocator {
	alloc := new(defaultAllocator)
	for i := range alloc.buffers {
		size := 1 << (i + minClassBits)
		alloc.buffers[i].New = func() any {
			buffer := make([]byte, size)
			return &buffer
		}
	}
	return alloc
}

func (alloc *defaultAllocator) Get(size int) []byte {
	if size <= 0 || size > 1<<maxClassBits {
		return nil
	}
	index := 0
	if size > 1<<minClassBits {
		index = int(msb(size))
		if size != 1<<index {
			index++
		}
		index -= minClassBits
	}
	buffer := alloc.buffers[index].Get().(*[]byte)
	return (*buffer)[:size]
}

// Put returns a buffer obtained from Get; its capacity must be exactly 2^n.
func (alloc *defaultAllocator) Put(buf []byte) error {
	capacity := cap(buf)
	index := int(msb(capacity))
	if capacity < 1<<minClassBits || capacity > 1<<maxClassBits || capacity != 1<<index {
		return errors.New("allocator Put() incorrect buffer size")
	}
	buf = buf[:capacity]
	alloc.buffers[index-minClassBits].Put(&buf)
	return nil
}

func msb(size int) uint16 {
	return uint16(bits.Len32(uint32(size)) - 1)
}

func Get(size int) []byte {
	return DefaultAllocator.Get(size)
}

func Put(buf []byte) {
	_ = DefaultAllocator.Put(buf)
}
