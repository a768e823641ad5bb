package engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
)

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	PrintEvent(&buf, EventInfo{Handle: 3, Trigger: "tick", Tag: ir.Tag{Time: 10, Microstep: 2}})
	PrintEvent(&buf, EventInfo{Handle: 4, Trigger: "in", Tag: ir.Tag{Time: 20}, Value: 7})

	assert.Equal(t,
		"event [10+2] trigger=tick handle=3\n"+
			"event [20+0] trigger=in handle=4 value=7\n",
		buf.String())
}

func TestPrintReaction(t *testing.T) {
	var buf bytes.Buffer
	PrintReaction(&buf, ReactionInfo{Name: "r", Priority: 2, Triggers: []string{"a", "b"}})
	PrintReaction(&buf, ReactionInfo{Name: "s", Priority: 3, Deadline: 5 * ir.Msec, Triggers: []string{"a"}, Effects: []string{"out"}})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, "reaction r priority=2 triggers=[a,b]", string(lines[0]))
	assert.Contains(t, string(lines[1]), "deadline=")
	assert.Contains(t, string(lines[1]), "effects=[out]")
}

func TestProgram_ReactionInfo(t *testing.T) {
	p := NewProgram("info")
	start, _ := p.AddTrigger(TriggerSpec{Name: "start", Kind: KindStartup})
	out, _ := p.AddTrigger(TriggerSpec{Name: "out", Kind: KindPort})
	id, err := p.AddReaction(ReactionSpec{Name: "src", Priority: 1, Triggers: []TriggerID{start}, Effects: []TriggerID{out}, Body: nop})
	require.NoError(t, err)

	info, ok := p.ReactionInfo(id)
	require.True(t, ok)
	assert.Equal(t, []string{"start"}, info.Triggers)
	assert.Equal(t, []string{"out"}, info.Effects)

	_, ok = p.ReactionInfo(ReactionID(5))
	assert.False(t, ok)
}

func TestScheduler_DumpEvents(t *testing.T) {
	p := NewProgram("dump")
	a, _ := p.AddTrigger(TriggerSpec{Name: "a", Kind: KindLogicalAction})
	_, err := p.AddReaction(ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{a}, Body: nop})
	require.NoError(t, err)

	s := newTestScheduler(p)
	require.NoError(t, s.Initialize())
	_, err = s.Schedule(a, 20*ir.Nsec, "late")
	require.NoError(t, err)
	_, err = s.Schedule(a, 10*ir.Nsec, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	s.DumpEvents(&buf)
	assert.Equal(t,
		"event "+ir.Tag{Time: testStart + 10}.String()+" trigger=a handle=2\n"+
			"event "+ir.Tag{Time: testStart + 20}.String()+" trigger=a handle=1 value=late\n",
		buf.String())
}
