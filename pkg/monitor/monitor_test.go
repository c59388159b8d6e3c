package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/edgevision/dsdetect/pkg/gstrun"
	"github.com/stretchr/testify/require"
)

// fakeGraph feeds a scripted message sequence to the monitor.
type fakeGraph struct {
	messages chan *gstrun.Message
	started  atomic.Bool
	stopped  atomic.Bool
}

func newFakeGraph(msgs ...*gstrun.Message) *fakeGraph {
	g := &fakeGraph{messages: make(chan *gstrun.Message, len(msgs)+1)}
	for _, m := range msgs {
		g.messages <- m
	}
	return g
}

func (g *fakeGraph) Start() error {
	g.started.Store(true)
	return nil
}

func (g *fakeGraph) Stop() {
	g.stopped.Store(true)
}

func (g *fakeGraph) Poll(timeout time.Duration) *gstrun.Message {
	select {
	case m := <-g.messages:
		return m
	case <-time.After(timeout):
		return nil
	}
}

func (g *fakeGraph) OnSample(sinkName string, fn func(data []byte)) error {
	return nil
}

func TestRunEndOfStream(t *testing.T) {
	g := newFakeGraph(
		&gstrun.Message{Kind: gstrun.MessageStateChanged, OldState: "READY", NewState: "PLAYING", FromTopLevel: true},
		&gstrun.Message{Kind: gstrun.MessageStateChanged, OldState: "READY", NewState: "PLAYING", FromTopLevel: false},
		&gstrun.Message{Kind: gstrun.MessageEOS},
	)
	m := NewMonitor(logs.NewTestingLog(t), g)
	err := m.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateStopped, m.State())
	require.True(t, g.started.Load())
	require.True(t, g.stopped.Load())
}

func TestRunExecutionError(t *testing.T) {
	g := newFakeGraph(
		&gstrun.Message{Kind: gstrun.MessageError, Err: "decoder failure", Debug: "gstdecoder.c(123)"},
	)
	m := NewMonitor(logs.NewTestingLog(t), g)
	err := m.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decoder failure")
	require.Equal(t, StateStopped, m.State())
	require.True(t, g.stopped.Load())
}

func TestRunInterrupt(t *testing.T) {
	g := newFakeGraph()
	m := NewMonitor(logs.NewTestingLog(t), g)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not unblock on interrupt")
	}
	require.Equal(t, StateStopped, m.State())
	require.True(t, g.stopped.Load())
}
