package audiorelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_ForwardsToPeerNotSender(t *testing.T) {
	r := New("alice", "bob")

	var aliceGot, bobGot []Frame
	r.SetSink("alice", func(f Frame) { aliceGot = append(aliceGot, f) })
	r.SetSink("bob", func(f Frame) { bobGot = append(bobGot, f) })

	r.Forward("alice", Frame{SpeakerID: "alice", Data: []byte{1, 2, 3}})

	assert.Empty(t, aliceGot)
	require.Len(t, bobGot, 1)
	assert.Equal(t, []byte{1, 2, 3}, bobGot[0].Data)
}

func TestRelay_DropsFramesUntilPeerSinkAttached(t *testing.T) {
	r := New("alice", "bob")
	r.SetSink("alice", func(Frame) {})

	assert.NotPanics(t, func() {
		r.Forward("alice", Frame{SpeakerID: "alice", Data: []byte{1}})
	})
}

func TestRelay_ClearSinkStopsDelivery(t *testing.T) {
	r := New("alice", "bob")
	var got int
	r.SetSink("bob", func(Frame) { got++ })
	r.Forward("alice", Frame{})
	r.ClearSink("bob")
	r.Forward("alice", Frame{})
	assert.Equal(t, 1, got)
}

func TestFramer_EmitsFixedSizeChunks(t *testing.T) {
	var chunks [][]byte
	f := NewFramer(4, func(c []byte) { chunks = append(chunks, c) })

	f.Write([]byte{1, 2, 3})
	assert.Empty(t, chunks)

	f.Write([]byte{4, 5, 6, 7, 8})
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunks[0])
	assert.Equal(t, []byte{5, 6, 7, 8}, chunks[1])
	assert.Equal(t, 0, f.Buffered())
}

func TestFramer_FlushEmitsPartialRemainder(t *testing.T) {
	var chunks [][]byte
	f := NewFramer(100, func(c []byte) { chunks = append(chunks, c) })
	f.Write([]byte{1, 2, 3})
	f.Flush()
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte{1, 2, 3}, chunks[0])
	assert.Zero(t, f.Buffered())
}

func TestFramer_DropsOldestBytesPastBackpressureThreshold(t *testing.T) {
	f := NewFramer(maxBufferedBytes+1000, func([]byte) {})
	// Write more than the cap in one shot; the framer should truncate from
	// the front rather than grow without bound.
	f.Write(make([]byte, maxBufferedBytes+5000))
	assert.Equal(t, maxBufferedBytes, f.Buffered())
}
