package buf

import (
	"io"

	"github.com/eapache/queue"
)

// ChunkSize is the capacity of each pooled chunk backing a Queue.
const ChunkSize = 16 * 1024

type chunk struct {
	data  []byte
	start int
	end   int
}

func (c *chunk) spare() int {
	return len(c.data) - c.end
}

// Queue is an unbounded FIFO of bytes: writes append at the tail, Peek and
// Discard consume from the head. Byte order is never changed.
// A Queue is not safe for concurrent use.
type Queue struct {
	chunks *queue.Queue
	length int
}

func NewQueue() *Queue {
	return &Queue{chunks: queue.New()}
}

func (q *Queue) Len() int {
	return q.length
}

func (q *Queue) IsEmpty() bool {
	return q.length == 0
}

// Write appends a copy of p. It never fails.
func (q *Queue) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		var tail *chunk
		if q.chunks.Length() > 0 {
			tail = q.chunks.Get(-1).(*chunk)
		}
		if tail == nil || tail.spare() == 0 {
			tail = &chunk{data: Get(ChunkSize)}
			q.chunks.Add(tail)
		}
		copied := copy(tail.data[tail.end:], p)
		tail.end += copied
		q.length += copied
		p = p[copied:]
	}
	return n, nil
}

// Peek returns the unread bytes of the head chunk, or nil if the queue is empty.
// The slice is valid until the next Discard or Release.
func (q *Queue) Peek() []byte {
	if q.length == 0 {
		return nil
	}
	head := q.chunks.Peek().(*chunk)
	return head.data[head.start:head.end]
}

// Discard drops n bytes from the head.
func (q *Queue) Discard(n int) {
	if n < 0 || n > q.length {
		panic("buf: discard out of range")
	}
	q.length -= n
	for n > 0 {
		head := q.chunks.Peek().(*chunk)
		available := head.end - head.start
		if n < available {
			head.start += n
			return
		}
		n -= available
		q.chunks.Remove()
		Put(head.data)
	}
}

// WriteTo drains the queue into w until it is empty or w fails.
func (q *Queue) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for q.length > 0 {
		n, err := w.Write(q.Peek())
		q.Discard(n)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// Release returns all chunks to the pool and empties the queue.
func (q *Queue) Release() {
	for q.chunks.Length() > 0 {
		Put(q.chunks.Remove().(*chunk).data)
	}
	q.length = 0
}
