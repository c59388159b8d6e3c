package gstrun

// Package gstrun is the boundary to the media framework runtime. The rest of the
// system only sees the Graph interface and its messages; the GStreamer binding
// lives in gst.go. Tests substitute a fake Graph.

import "time"

// MessageKind discriminates execution-status notifications from the runtime.
type MessageKind int

const (
	MessageEOS MessageKind = iota
	MessageError
	MessageStateChanged
)

// Message is one execution-status notification.
type Message struct {
	Kind         MessageKind
	Err          string // MessageError: error text
	Debug        string // MessageError: auxiliary debug detail, may be empty
	OldState     string // MessageStateChanged
	NewState     string // MessageStateChanged
	FromTopLevel bool   // MessageStateChanged: true if reported for the whole graph
}

// Graph is one materialized processing graph.
type Graph interface {
	// Start moves the graph to its running state.
	Start() error
	// Stop requests an orderly, unconditional stop. Safe to call more than once.
	Stop()
	// Poll returns the next execution-status message, or nil if none arrived
	// within the timeout.
	Poll(timeout time.Duration) *Message
	// OnSample registers fn to receive byte buffers produced by the named
	// application sink. Must be called before Start.
	OnSample(sinkName string, fn func(data []byte)) error
}

// Opener materializes a graph from a launch description.
// gstrun.Open is the GStreamer-backed implementation.
type Opener func(launch string) (Graph, error)
