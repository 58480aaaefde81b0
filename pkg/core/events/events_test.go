package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorderAppendsEmittedEvents(t *testing.T) {
	r := &Recorder{}
	r.Emit(Event{Kind: PeerConnected, PeerID: "p1"})
	r.Emit(Event{Kind: StoryReceived})

	require.Len(t, r.Events, 2)
	require.Equal(t, PeerConnected, r.Events[0].Kind)
}

func TestNopSinkDoesNothing(t *testing.T) {
	var sink UIEventSink = NopSink{}
	require.NotPanics(t, func() { sink.Emit(Event{Kind: PeerDiscovered}) })
}
