package pqueue

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id   int
	prio int
}

func newItemQueue() *Queue[int, item] {
	return New(
		func(a, b item) bool {
			if a.prio != b.prio {
				return a.prio < b.prio
			}
			return a.id < b.id
		},
		func(v item) int { return v.id },
	)
}

func TestPopOrder(t *testing.T) {
	q := newItemQueue()
	rng := rand.New(rand.NewSource(7))
	var prios []int
	for i := 0; i < 200; i++ {
		p := rng.Intn(50)
		prios = append(prios, p)
		require.NoError(t, q.Insert(item{id: i, prio: p}))
	}
	sort.Ints(prios)

	var got []int
	for q.Len() > 0 {
		v, ok := q.PopMin()
		require.True(t, ok)
		got = append(got, v.prio)
	}
	assert.Equal(t, prios, got)
}

func TestInsertDuplicateKey(t *testing.T) {
	q := newItemQueue()
	require.NoError(t, q.Insert(item{id: 1, prio: 5}))
	assert.ErrorIs(t, q.Insert(item{id: 1, prio: 2}), ErrDuplicateKey)
	assert.Equal(t, 1, q.Len())
}

func TestPeekAndEmpty(t *testing.T) {
	q := newItemQueue()
	_, ok := q.PeekMin()
	assert.False(t, ok)
	_, ok = q.PopMin()
	assert.False(t, ok)

	require.NoError(t, q.Insert(item{id: 1, prio: 3}))
	require.NoError(t, q.Insert(item{id: 2, prio: 1}))
	v, ok := q.PeekMin()
	require.True(t, ok)
	assert.Equal(t, 2, v.id)
	assert.Equal(t, 2, q.Len())
}

func TestRemoveKeepsIndexConsistent(t *testing.T) {
	q := newItemQueue()
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Insert(item{id: i, prio: 20 - i}))
	}

	for _, id := range []int{19, 0, 7, 13} {
		v, ok := q.Remove(id)
		require.True(t, ok)
		assert.Equal(t, id, v.id)
		assert.False(t, q.Contains(id))
	}
	_, ok := q.Remove(7)
	assert.False(t, ok)

	for i, v := range q.h.items {
		assert.Equal(t, i, q.h.index[v.id])
	}
	assert.Len(t, q.h.index, q.Len())

	last := -1
	for q.Len() > 0 {
		v, _ := q.PopMin()
		assert.Greater(t, v.prio, last)
		last = v.prio
	}
}

func TestUpdateResifts(t *testing.T) {
	q := newItemQueue()
	require.NoError(t, q.Insert(item{id: 1, prio: 10}))
	require.NoError(t, q.Insert(item{id: 2, prio: 20}))

	assert.True(t, q.Update(item{id: 2, prio: 1}))
	v, _ := q.PeekMin()
	assert.Equal(t, 2, v.id)

	assert.False(t, q.Update(item{id: 99, prio: 0}))
}

type ptrItem struct {
	id   int
	prio int
}

func TestFixAfterMutation(t *testing.T) {
	q := New(
		func(a, b *ptrItem) bool { return a.prio < b.prio },
		func(v *ptrItem) int { return v.id },
	)
	a, b := &ptrItem{1, 10}, &ptrItem{2, 20}
	require.NoError(t, q.Insert(a))
	require.NoError(t, q.Insert(b))

	b.prio = 5
	assert.True(t, q.Fix(2))
	v, _ := q.PeekMin()
	assert.Same(t, b, v)
	assert.False(t, q.Fix(3))
}

func TestGetSortedClear(t *testing.T) {
	q := newItemQueue()
	for _, p := range []int{4, 2, 9} {
		require.NoError(t, q.Insert(item{id: p, prio: p}))
	}
	v, ok := q.Get(9)
	require.True(t, ok)
	assert.Equal(t, 9, v.prio)

	sorted := q.Sorted()
	assert.Equal(t, []item{{2, 2}, {4, 4}, {9, 9}}, sorted)
	assert.Equal(t, 3, q.Len())

	var seen int
	q.Each(func(item) bool { seen++; return true })
	assert.Equal(t, 3, seen)

	seen = 0
	q.Each(func(item) bool { seen++; return false })
	assert.Equal(t, 1, seen)

	var buf strings.Builder
	q.Dump(&buf, func(w io.Writer, v item) { fmt.Fprintf(w, "%d;", v.prio) })
	assert.Equal(t, "2;4;9;", buf.String())

	var cleared []int
	q.Clear(func(v item) { cleared = append(cleared, v.id) })
	assert.ElementsMatch(t, []int{2, 4, 9}, cleared)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Contains(4))
}
