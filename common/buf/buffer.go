package buf

import (
	"bytes"
)

// Buffer is a growable byte queue with a consumed offset: bytes are appended
// at end and removed from start without shifting on every consume.
//
// A Buffer is not safe for concurrent use; its owner serializes access.
type Buffer struct {
	data  []byte
	start int
	end   int
}

func New() *Buffer {
	return &Buffer{}
}

func NewSize(size int) *Buffer {
	return &Buffer{data: Get(size)}
}

func (b *Buffer) Len() int {
	return b.end - b.start
}

func (b *Buffer) IsEmpty() bool {
	return b.end == b.start
}

// Bytes returns the unconsumed bytes. The slice is valid until the next
// mutating call.
func (b *Buffer) Bytes() []byte {
	return b.data[b.start:b.end]
}

// Peek returns the first n unconsumed bytes without consuming them.
func (b *Buffer) Peek(n int) []byte {
	if n > b.Len() {
		n = b.Len()
	}
	return b.data[b.start : b.start+n]
}

// Advance discards the first n unconsumed bytes.
func (b *Buffer) Advance(n int) {
	if n >= b.Len() {
		b.start = 0
		b.end = 0
		return
	}
	b.start += n
}

// Next removes and returns a copy of the first n unconsumed bytes.
func (b *Buffer) Next(n int) []byte {
	if n > b.Len() {
		n = b.Len()
	}
	chunk := make([]byte, n)
	copy(chunk, b.data[b.start:b.start+n])
	b.Advance(n)
	return chunk
}

// Index returns the offset of the first occurrence of sep in the unconsumed
// bytes, or -1.
func (b *Buffer) Index(sep []byte) int {
	return bytes.Index(b.Bytes(), sep)
}

func (b *Buffer) Write(p []byte) (int, error) {
	copy(b.FreeBytes(len(p)), p)
	b.end += len(p)
	return len(p), nil
}

// FreeBytes makes room for at least n more bytes and returns the free tail.
// Bytes written into it are committed with Extend.
func (b *Buffer) FreeBytes(n int) []byte {
	if len(b.data)-b.end >= n {
		return b.data[b.end:]
	}
	length := b.Len()
	if b.start > 0 && len(b.data)-length >= n {
		copy(b.data, b.data[b.start:b.end])
		b.start = 0
		b.end = length
		return b.data[b.end:]
	}
	size := len(b.data) * 2
	if size < length+n {
		size = length + n
	}
	data := Get(size)
	data = data[:cap(data)]
	copy(data, b.data[b.start:b.end])
	Put(b.data)
	b.data = data
	b.start = 0
	b.end = length
	return b.data[b.end:]
}

// Extend commits n bytes previously written into FreeBytes.
func (b *Buffer) Extend(n int) {
	if b.end+n > len(b.data) {
		panic("buffer overflow")
	}
	b.end += n
}

// Release returns the backing storage to the pool. The Buffer stays usable.
func (b *Buffer) Release() {
	Put(b.data)
	b.data = nil
	b.start = 0
	b.end = 0
}
