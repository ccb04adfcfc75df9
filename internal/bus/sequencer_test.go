package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collectSeq(t *testing.T) (*Sequencer, *[]uint64) {
	t.Helper()
	var got []uint64
	seq := NewSequencer(1, 16, func(n uint64, _ any) {
		got = append(got, n)
	})
	return seq, &got
}

func TestSequencerInOrder(t *testing.T) {
	seq, got := collectSeq(t)
	for i := uint64(1); i <= 4; i++ {
		assert.True(t, seq.Offer(i, nil))
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, *got)
	assert.Zero(t, seq.Pending())
}

func TestSequencerBuffersGapThenReleasesInOrder(t *testing.T) {
	seq, got := collectSeq(t)

	assert.True(t, seq.Offer(1, nil))
	assert.True(t, seq.Offer(3, nil))
	assert.True(t, seq.Offer(4, nil))
	assert.Equal(t, []uint64{1}, *got, "3 and 4 held until the gap fills")
	assert.Equal(t, 2, seq.Pending())

	assert.True(t, seq.Offer(2, nil))
	assert.Equal(t, []uint64{1, 2, 3, 4}, *got)
	assert.Zero(t, seq.Pending())
}

func TestSequencerDropsReplays(t *testing.T) {
	seq, got := collectSeq(t)

	assert.True(t, seq.Offer(1, nil))
	assert.True(t, seq.Offer(2, nil))
	assert.False(t, seq.Offer(1, nil), "already-processed seq must be ignored")
	assert.False(t, seq.Offer(2, nil))
	assert.Equal(t, []uint64{1, 2}, *got)

	// Duplicate of a message still sitting in the reorder buffer.
	assert.True(t, seq.Offer(5, nil))
	assert.False(t, seq.Offer(5, nil))
	assert.Equal(t, 1, seq.Pending())
}

func TestSequencerOverflowSkipsGap(t *testing.T) {
	var got []uint64
	seq := NewSequencer(1, 2, func(n uint64, _ any) { got = append(got, n) })

	assert.True(t, seq.Offer(3, nil))
	assert.True(t, seq.Offer(4, nil))
	assert.True(t, seq.Offer(5, nil)) // overflows maxBuf=2, abandons seq 1-2
	assert.Equal(t, []uint64{3, 4, 5}, got)
}

func TestBusSubscribePublishUnsubscribe(t *testing.T) {
	b := New()
	var calls int
	sub := b.Subscribe("budget", func(topic string, payload any) {
		calls++
		assert.Equal(t, "budget", topic)
	})

	b.Publish("budget", 1)
	b.Publish("other", 2)
	assert.Equal(t, 1, calls)

	b.Unsubscribe(sub)
	b.Publish("budget", 3)
	assert.Equal(t, 1, calls, "removed handler must not fire")
}

func TestBusContainsHandlerPanic(t *testing.T) {
	b := New()
	b.Subscribe("x", func(string, any) { panic("boom") })
	var after int
	b.Subscribe("x", func(string, any) { after++ })

	assert.NotPanics(t, func() { b.Publish("x", nil) })
	assert.Equal(t, 1, after)
}
