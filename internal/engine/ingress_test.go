package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngress_DrainFIFO(t *testing.T) {
	q := newIngress()
	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(asyncRequest{handle: Handle(i)}))
	}
	assert.Equal(t, 3, q.Len())

	got := q.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, Handle(1), got[0].handle)
	assert.Equal(t, Handle(3), got[2].handle)
	assert.Nil(t, q.Drain())
}

func TestIngress_WaitSignals(t *testing.T) {
	q := newIngress()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	q.Enqueue(asyncRequest{handle: 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not signalled")
	}
}

func TestIngress_SignalsCoalesce(t *testing.T) {
	q := newIngress()
	q.Enqueue(asyncRequest{handle: 1})
	q.Enqueue(asyncRequest{handle: 2})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("expected a single coalesced signal")
	default:
	}
	assert.Len(t, q.Drain(), 2)
}

func TestIngress_Close(t *testing.T) {
	q := newIngress()
	q.Enqueue(asyncRequest{handle: 7})

	rest := q.Close()
	require.Len(t, rest, 1)
	assert.False(t, q.Enqueue(asyncRequest{handle: 8}))
	assert.Nil(t, q.Close(), "second close is a no-op")

	<-q.Wait() // buffered signal from the enqueue
	_, open := <-q.Wait()
	assert.False(t, open)
}

func TestIngress_ConcurrentEnqueue(t *testing.T) {
	q := newIngress()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(asyncRequest{handle: Handle(i*50 + j)})
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, q.Drain(), 1000)
}
