package stream

// byteQueue holds produced bytes no read has claimed yet. Entries are owned
// by the queue and never mutated; the head entry may be partially consumed.
type byteQueue struct {
	entries [][]byte
	head    int // consumed prefix of entries[0]
	size    int
}

func (q *byteQueue) len() int { return q.size }

// push appends chunk, taking ownership of it.
func (q *byteQueue) push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	q.entries = append(q.entries, chunk)
	q.size += len(chunk)
}

// pushFront puts chunk ahead of everything queued.
func (q *byteQueue) pushFront(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if q.head > 0 {
		q.entries[0] = q.entries[0][q.head:]
		q.head = 0
	}
	q.entries = append(q.entries, nil)
	copy(q.entries[1:], q.entries)
	q.entries[0] = chunk
	q.size += len(chunk)
}

// readInto moves up to len(dst) bytes into dst in FIFO order.
func (q *byteQueue) readInto(dst []byte) int {
	n := 0
	for n < len(dst) && len(q.entries) > 0 {
		c := copy(dst[n:], q.entries[0][q.head:])
		n += c
		q.head += c
		if q.head == len(q.entries[0]) {
			q.popFront()
		}
	}
	q.size -= n
	return n
}

// shift removes and returns the unread part of the head entry.
func (q *byteQueue) shift() []byte {
	if len(q.entries) == 0 {
		return nil
	}
	chunk := q.entries[0][q.head:]
	q.size -= len(chunk)
	q.popFront()
	return chunk
}

func (q *byteQueue) popFront() {
	q.entries[0] = nil
	q.entries = q.entries[1:]
	q.head = 0
}

func (q *byteQueue) reset() {
	clear(q.entries)
	q.entries = nil
	q.head = 0
	q.size = 0
}
