package buf

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	defer q.Release()

	require.True(t, q.IsEmpty())
	require.Nil(t, q.Peek())

	q.Write([]byte("hello "))
	q.Write([]byte("world"))
	require.Equal(t, 11, q.Len())
	require.Equal(t, []byte("hello world"), q.Peek())

	q.Discard(6)
	require.Equal(t, []byte("world"), q.Peek())
	q.Discard(5)
	require.True(t, q.IsEmpty())
	require.Nil(t, q.Peek())
}

func TestQueueSpansChunks(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	defer q.Release()

	data := make([]byte, ChunkSize*2+100)
	_, err := rand.Read(data)
	require.NoError(t, err)
	n, err := q.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Len(t, q.Peek(), ChunkSize)

	var drained bytes.Buffer
	for !q.IsEmpty() {
		head := q.Peek()
		step := len(head)
		if step > 700 {
			step = 700
		}
		drained.Write(head[:step])
		q.Discard(step)
	}
	require.Equal(t, data, drained.Bytes())
}

func TestQueueDiscardAcrossChunks(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	defer q.Release()

	data := bytes.Repeat([]byte("0123456789"), ChunkSize/5)
	q.Write(data)
	q.Discard(ChunkSize + 3)
	require.Equal(t, len(data)-ChunkSize-3, q.Len())
	require.Equal(t, data[ChunkSize+3:], q.Peek())
	require.Panics(t, func() { q.Discard(q.Len() + 1) })
}

type limitedWriter struct {
	bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.Buffer.Write(p)
}

func TestQueueWriteTo(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	data := make([]byte, 2000)
	_, err := rand.Read(data)
	require.NoError(t, err)
	q.Write(data)

	writer := &limitedWriter{limit: 512}
	n, err := q.WriteTo(writer)
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)
	require.Equal(t, data, writer.Bytes())
	require.True(t, q.IsEmpty())

	q.Write([]byte("x"))
	_, err = q.WriteTo(&limitedWriter{limit: 0})
	require.ErrorIs(t, err, io.ErrShortWrite)
	require.Equal(t, 1, q.Len())
	q.Release()
	require.True(t, q.IsEmpty())
}

func TestAllocator(t *testing.T) {
	t.Parallel()
	buffer := Get(1000)
	require.Len(t, buffer, 1000)
	require.Equal(t, 1024, cap(buffer))
	require.NoError(t, DefaultAllocator.Put(buffer))
	require.Error(t, DefaultAllocator.Put(make([]byte, 1000)))
	require.Nil(t, Get(0))
	require.Nil(t, Get(1<<17))
	require.Len(t, Get(10), 10)
}
