package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/pool"
)

func TestEventQueue_PopsInTagOrder(t *testing.T) {
	arena := pool.NewArena[int]("test")
	eq := newEventQueue()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		tag := ir.Tag{Time: ir.Instant(rng.Intn(20)), Microstep: uint32(rng.Intn(3))}
		require.NoError(t, eq.push(eventEntry{ref: arena.Alloc(i), tag: tag, seq: int64(i)}))
	}

	var prev eventEntry
	first := true
	for eq.len() > 0 {
		next, ok := eq.nextTag()
		require.True(t, ok)
		e, ok := eq.popAt(next)
		require.True(t, ok)
		if !first {
			c := prev.tag.Compare(e.tag)
			require.LessOrEqual(t, c, 0, "tag order violated: %s then %s", prev.tag, e.tag)
			if c == 0 {
				require.Less(t, prev.seq, e.seq, "insertion order violated at %s", e.tag)
			}
		}
		prev, first = e, false
	}
}

func TestEventQueue_PopAtOnlyMatchingTag(t *testing.T) {
	arena := pool.NewArena[int]("test")
	eq := newEventQueue()
	require.NoError(t, eq.push(eventEntry{ref: arena.Alloc(1), tag: ir.Tag{Time: 5}, seq: 1}))

	_, ok := eq.popAt(ir.Tag{Time: 4})
	assert.False(t, ok)
	assert.Equal(t, 1, eq.len())

	_, ok = eq.popAt(ir.Tag{Time: 5})
	assert.True(t, ok)

	_, ok = eq.nextTag()
	assert.False(t, ok)
}

func TestEventQueue_Remove(t *testing.T) {
	arena := pool.NewArena[int]("test")
	eq := newEventQueue()
	a, b := arena.Alloc(1), arena.Alloc(2)
	require.NoError(t, eq.push(eventEntry{ref: a, tag: ir.Tag{Time: 1}, seq: 1}))
	require.NoError(t, eq.push(eventEntry{ref: b, tag: ir.Tag{Time: 2}, seq: 2}))

	_, ok := eq.remove(a)
	assert.True(t, ok)
	assert.False(t, eq.contains(a))
	assert.True(t, eq.contains(b))

	next, _ := eq.nextTag()
	assert.Equal(t, ir.Tag{Time: 2}, next)
}

func TestReactionQueue_PriorityOrder(t *testing.T) {
	p := NewProgram("rq")
	rq := newReactionQueue()
	for i, prio := range []int64{30, 10, 20} {
		require.NoError(t, rq.insert(p, ir.Tag{}, reactionEntry{id: ReactionID(i), priority: prio}))
	}

	var got []int64
	for {
		r, ok := rq.pop()
		if !ok {
			break
		}
		got = append(got, r.priority)
	}
	assert.Equal(t, []int64{10, 20, 30}, got)
}

func TestReactionQueue_SameReactionIsQueuedOnce(t *testing.T) {
	p := NewProgram("rq")
	rq := newReactionQueue()
	r := reactionEntry{id: 1, priority: 4}

	require.NoError(t, rq.insert(p, ir.Tag{}, r))
	require.NoError(t, rq.insert(p, ir.Tag{}, r))
	assert.Equal(t, 1, rq.len())
}

func TestReactionQueue_DuplicatePriority(t *testing.T) {
	p := NewProgram("rq")
	start, _ := p.AddTrigger(TriggerSpec{Name: "start", Kind: KindStartup})
	a, _ := p.AddReaction(ReactionSpec{Name: "a", Priority: 4, Triggers: []TriggerID{start}, Body: nop})
	b, _ := p.AddReaction(ReactionSpec{Name: "b", Priority: 4, Triggers: []TriggerID{start}, Body: nop})

	rq := newReactionQueue()
	require.NoError(t, rq.insert(p, ir.Tag{}, reactionEntry{id: a, priority: 4}))

	err := rq.insert(p, ir.Tag{Time: 3}, reactionEntry{id: b, priority: 4})
	require.Error(t, err)
	assert.True(t, IsDuplicatePriority(err))
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "a")
	assert.Equal(t, 1, rq.len())
}
