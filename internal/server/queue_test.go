package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConnection(t *testing.T) *Connection {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return newConnection(a)
}

func TestWorkQueueFIFO(t *testing.T) {
	q := newWorkQueue()
	first, second := pipeConnection(t), pipeConnection(t)

	require.True(t, q.push(first))
	require.True(t, q.push(second))
	assert.Equal(t, 2, q.len())

	// one pending wake-up no matter how many pushes
	assert.Len(t, q.ready, 1)
	<-q.ready

	got, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Len(t, q.ready, 1, "pop re-signals while items remain")
	<-q.ready

	got, ok = q.pop()
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Len(t, q.ready, 0)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestWorkQueueDrainCloses(t *testing.T) {
	q := newWorkQueue()
	c := pipeConnection(t)
	require.True(t, q.push(c))

	drained := q.drain()
	require.Len(t, drained, 1)
	assert.Same(t, c, drained[0])

	assert.False(t, q.push(pipeConnection(t)))
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestConnectionStates(t *testing.T) {
	c := pipeConnection(t)
	assert.Equal(t, StateConnecting, c.State())
	assert.NotEmpty(t, c.ID)

	c.setState(StateProcessing)
	assert.Equal(t, "processing", c.State().String())

	c.close()
	assert.Equal(t, StateClosed, c.State())
	c.setState(StateReady)
	assert.Equal(t, StateClosed, c.State(), "closed is terminal")

	f := pipeConnection(t)
	f.fail(assert.AnError)
	f.close()
	assert.Equal(t, StateFailed, f.State())
}
