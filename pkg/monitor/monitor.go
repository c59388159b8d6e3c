package monitor

// Package monitor watches a running graph for completion, errors and state
// transitions, and drives shutdown for the direct-playback case (everything
// except network restreaming).

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/edgevision/dsdetect/pkg/gstrun"
)

// State of the monitor itself (not the graph).
type State int

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// pollInterval keeps shutdown responsive while blocking on the status channel.
const pollInterval = 50 * time.Millisecond

type Monitor struct {
	log   logs.Log
	graph gstrun.Graph
	state State
}

func NewMonitor(log logs.Log, graph gstrun.Graph) *Monitor {
	return &Monitor{
		log:   log,
		graph: graph,
	}
}

// State returns the monitor's current state.
func (m *Monitor) State() State {
	return m.state
}

// Run starts the graph and blocks until end-of-stream, an execution error, or
// cancellation of ctx. The graph is always stopped in an orderly fashion before
// Run returns. A non-nil return means the run failed and the process should
// exit non-zero. Execution errors are never retried.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.graph.Start(); err != nil {
		m.state = StateStopped
		return err
	}
	m.state = StateRunning
	defer m.graph.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Infof("Interrupted, stopping pipeline")
			m.state = StateStopped
			return nil
		default:
		}

		msg := m.graph.Poll(pollInterval)
		if msg == nil {
			continue
		}
		switch msg.Kind {
		case gstrun.MessageEOS:
			m.log.Infof("End of stream")
			m.state = StateStopped
			return nil
		case gstrun.MessageError:
			if msg.Debug != "" {
				m.log.Errorf("Pipeline error: %v (%v)", msg.Err, msg.Debug)
			} else {
				m.log.Errorf("Pipeline error: %v", msg.Err)
			}
			m.state = StateStopped
			return fmt.Errorf("pipeline error: %v", msg.Err)
		case gstrun.MessageStateChanged:
			// Sub-element transitions are noise; only the whole graph's matter.
			if msg.FromTopLevel {
				m.log.Infof("Pipeline state changed from %v to %v", msg.OldState, msg.NewState)
			}
		}
	}
}
