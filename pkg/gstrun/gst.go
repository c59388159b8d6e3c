package gstrun

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var gstInitOnce sync.Once

// Open parses a gst-launch description and returns the resulting graph,
// in its stopped state. Initializes GStreamer on first use.
func Open(launch string) (Graph, error) {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return &gstGraph{pipeline: pipeline}, nil
}

type gstGraph struct {
	pipeline *gst.Pipeline
	stopOnce sync.Once
}

func (g *gstGraph) Start() error {
	if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	return nil
}

func (g *gstGraph) Stop() {
	g.stopOnce.Do(func() {
		g.pipeline.SetState(gst.StateNull)
	})
}

func (g *gstGraph) Poll(timeout time.Duration) *Message {
	bus := g.pipeline.GetPipelineBus()
	msg := bus.TimedPop(timeout)
	if msg == nil {
		return nil
	}
	switch msg.Type() {
	case gst.MessageEOS:
		return &Message{Kind: MessageEOS}
	case gst.MessageError:
		gerr := msg.ParseError()
		return &Message{
			Kind:  MessageError,
			Err:   gerr.Error(),
			Debug: gerr.DebugString(),
		}
	case gst.MessageStateChanged:
		old, new := msg.ParseStateChanged()
		return &Message{
			Kind:         MessageStateChanged,
			OldState:     old.String(),
			NewState:     new.String(),
			FromTopLevel: msg.Source() == g.pipeline.GetName(),
		}
	}
	return nil
}

func (g *gstGraph) OnSample(sinkName string, fn func(data []byte)) error {
	elem, err := g.pipeline.GetElementByName(sinkName)
	if err != nil {
		return fmt.Errorf("appsink %v not found in pipeline: %w", sinkName, err)
	}
	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			sample := sink.PullSample()
			if sample == nil {
				return gst.FlowOK
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowOK
			}
			mapInfo := buffer.Map(gst.MapRead)
			data := mapInfo.Bytes()
			if len(data) == 0 {
				buffer.Unmap()
				return gst.FlowOK
			}
			// Copy before unmapping; GStreamer reuses the buffer.
			owned := make([]byte, len(data))
			copy(owned, data)
			buffer.Unmap()
			fn(owned)
			return gst.FlowOK
		},
	})
	return nil
}
