package buf

import (
	"math/bits"
	"sync"
)

const (
	minClassBits = 6
	maxClassBits = 16
)

// sizeClasses pools slices whose capacity is an exact power of two between
// 64 B and 64 KiB.
var sizeClasses [maxClassBits - minClassBits + 1]sync.Pool

func init() {
	for index := range sizeClasses {
		size := 1 << (index + minClassBits)
		sizeClasses[index].New = func() any {
			buffer := make([]byte, size)
			return &buffer
		}
	}
}

// Get returns a slice of length size. Slices above 64 KiB are not pooled.
func Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > 1<<maxClassBits {
		return make([]byte, size)
	}
	index := classOf(size)
	buffer := *sizeClasses[index].Get().(*[]byte)
	return buffer[:size]
}

// Put returns a slice obtained from Get. Slices whose capacity is not a pool
// class are dropped.
func Put(buffer []byte) {
	size := cap(buffer)
	if size < 1<<minClassBits || size > 1<<maxClassBits || size&(size-1) != 0 {
		return
	}
	buffer = buffer[:size]
	sizeClasses[bits.Len(uint(size))-1-minClassBits].Put(&buffer)
}

func classOf(size int) int {
	if size <= 1<<minClassBits {
		return 0
	}
	return bits.Len(uint(size-1)) - minClassBits
}
