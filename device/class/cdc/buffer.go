package cdc

// BufferSize is the capacity of a Buffer, two full-speed bulk packets.
const BufferSize = 128

// Buffer is a fixed-capacity byte queue between stream calls and packet
// transfers. Readable bytes are always contiguous; free space is compacted
// to the end on demand.
type Buffer struct {
	store [BufferSize]byte
	rpos  int
	wpos  int
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return b.wpos - b.rpos
}

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() int {
	return BufferSize - b.Len()
}

// Clear discards all buffered bytes.
func (b *Buffer) Clear() {
	b.rpos, b.wpos = 0, 0
}

// Write copies as much of data as fits and returns the count.
func (b *Buffer) Write(data []byte) int {
	if len(data) > BufferSize-b.wpos {
		b.compact()
	}
	n := copy(b.store[b.wpos:], data)
	b.wpos += n
	return n
}

// Read passes up to max buffered bytes to f and discards the number f
// reports consumed. If f fails nothing is discarded.
func (b *Buffer) Read(max int, f func(data []byte) (int, error)) (int, error) {
	n := b.Len()
	if n > max {
		n = max
	}
	used, err := f(b.store[b.rpos : b.rpos+n])
	if err != nil {
		return 0, err
	}
	b.rpos += used
	if b.rpos == b.wpos {
		b.rpos, b.wpos = 0, 0
	}
	return used, nil
}

// Fill passes f a contiguous region of at least min free bytes and keeps
// the number f reports written. It returns 0 without calling f when less
// than min bytes are free.
func (b *Buffer) Fill(min int, f func(space []byte) (int, error)) (int, error) {
	if b.Free() < min {
		return 0, nil
	}
	if BufferSize-b.wpos < min {
		b.compact()
	}
	n, err := f(b.store[b.wpos:])
	if err != nil {
		return 0, err
	}
	b.wpos += n
	return n, nil
}

// compact moves the buffered bytes to the start of the store.
func (b *Buffer) compact() {
	if b.rpos == 0 {
		return
	}
	n := copy(b.store[:], b.store[b.rpos:b.wpos])
	b.rpos, b.wpos = 0, n
}
