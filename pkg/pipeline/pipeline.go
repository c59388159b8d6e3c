package pipeline

// Package pipeline assembles the gst-launch description of the detection graph.
// The graph always has three segments: a source, the shared processing chain
// (mux → inference → overlay, batch size 1), and exactly one sink. Inference and
// overlay stay in GPU memory (NVMM) throughout.

import (
	"fmt"
	"os"
	"strings"
)

// SourceKind says how the source identifier was classified.
type SourceKind int

const (
	SourceNetworkStream SourceKind = iota // rtsp/http URL, or a local video file served via file://
	SourceDeviceNode                      // /dev/video* capture device
	SourceTestPattern                     // synthetic source, the always-available fallback
)

func (k SourceKind) String() string {
	switch k {
	case SourceNetworkStream:
		return "network-stream"
	case SourceDeviceNode:
		return "device-node"
	case SourceTestPattern:
		return "test-pattern"
	}
	return "unknown"
}

// OutputMode says where the overlaid video goes. Exactly one mode per run.
type OutputMode int

const (
	OutputNetworkRestream OutputMode = iota
	OutputLocalDisplay
	OutputDiscard
)

func (m OutputMode) String() string {
	switch m {
	case OutputNetworkRestream:
		return "network-restream"
	case OutputLocalDisplay:
		return "local-display"
	case OutputDiscard:
		return "discard"
	}
	return "unknown"
}

// DefaultBitrate is the H264 encoder bitrate for the restream sink, in bits/second.
const DefaultBitrate = 4000000

// RTPPayloadType is the dynamic payload type used on the restream endpoint.
const RTPPayloadType = 96

// RestreamSinkName is the name of the appsink element that the restream sink
// segment ends in. The streaming service pulls H264 access units from it.
const RestreamSinkName = "h264sink"

// Options are the environment-derived choices that select the graph topology.
type Options struct {
	Source         string // URL, device path, file path, or anything else (test pattern)
	ConfigPath     string // effective detector config (possibly the filtered scratch file)
	Width          int
	Height         int
	EnableRestream bool
	EnableDisplay  bool
	Bitrate        int // 0 means DefaultBitrate
}

// Descriptor is a fully assembled graph description, ready for the runtime.
type Descriptor struct {
	Launch      string
	Source      SourceKind
	Output      OutputMode
	PayloadType uint8
}

// ClassifySource decides the source kind from the source identifier alone.
// Total: any string maps to exactly one kind, with the test pattern as fallback.
func ClassifySource(source string) SourceKind {
	if strings.HasPrefix(source, "rtsp://") || strings.HasPrefix(source, "http://") {
		return SourceNetworkStream
	}
	if strings.HasPrefix(source, "/dev/video") && pathExists(source) {
		return SourceDeviceNode
	}
	if isVideoFile(source) {
		return SourceNetworkStream
	}
	return SourceTestPattern
}

// Build assembles the graph description for the given options.
// The only error it can return is a malformed-parameter error, which indicates a
// programming mistake in the caller and must abort startup.
func Build(opts Options) (*Descriptor, error) {
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("pipeline: detector config path is empty")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("pipeline: invalid output dimensions %vx%v", opts.Width, opts.Height)
	}
	if strings.ContainsAny(opts.ConfigPath, " !") {
		return nil, fmt.Errorf("pipeline: config path contains launch syntax characters")
	}

	kind := ClassifySource(opts.Source)
	if kind != SourceTestPattern && strings.ContainsAny(opts.Source, " !") {
		return nil, fmt.Errorf("pipeline: source identifier contains launch syntax characters")
	}
	source, err := sourceSegment(kind, opts)
	if err != nil {
		return nil, err
	}
	processing := fmt.Sprintf(processingTemplate, opts.Width, opts.Height, opts.ConfigPath)

	mode := selectOutput(opts)
	sink := sinkSegment(mode, opts)

	launch, err := joinSegments(source, processing, sink)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Launch:      launch,
		Source:      kind,
		Output:      mode,
		PayloadType: RTPPayloadType,
	}, nil
}

// All three source kinds share the downstream shape: format conversion, batching
// mux at batch size 1, inference on the effective config, overlay.
const processingTemplate = "nvvideoconvert interpolation-method=5 ! " +
	"m.sink_0 nvstreammux name=m width=%d height=%d batch-size=1 ! " +
	"nvinfer config-file-path=%s ! " +
	"nvdsosd"

func sourceSegment(kind SourceKind, opts Options) (string, error) {
	switch kind {
	case SourceNetworkStream:
		uri := opts.Source
		if isVideoFile(uri) {
			uri = "file://" + uri
		}
		return fmt.Sprintf("nvurisrcbin uri=%s", uri), nil
	case SourceDeviceNode:
		return fmt.Sprintf("v4l2src device=%s", opts.Source), nil
	case SourceTestPattern:
		return "videotestsrc", nil
	}
	return "", fmt.Errorf("pipeline: unknown source kind %v", int(kind))
}

// First truthy wins: restream, then display, then discard.
func selectOutput(opts Options) OutputMode {
	if opts.EnableRestream {
		return OutputNetworkRestream
	}
	if opts.EnableDisplay {
		return OutputLocalDisplay
	}
	return OutputDiscard
}

func sinkSegment(mode OutputMode, opts Options) string {
	switch mode {
	case OutputNetworkRestream:
		bitrate := opts.Bitrate
		if bitrate == 0 {
			bitrate = DefaultBitrate
		}
		// The appsink delivers byte-stream access units to the streaming service,
		// which packetizes them for the RTSP endpoint.
		return fmt.Sprintf("nvvideoconvert ! video/x-raw(memory:NVMM),format=I420 ! "+
			"nvv4l2h264enc bitrate=%d insert-sps-pps=true ! "+
			"h264parse config-interval=-1 ! video/x-h264,stream-format=byte-stream,alignment=au ! "+
			"appsink name=%s sync=false", bitrate, RestreamSinkName)
	case OutputLocalDisplay:
		return "nvvideoconvert ! ximagesink sync=false"
	default:
		return "fakesink sync=false"
	}
}

// joinSegments concatenates the three segments after verifying that each is
// non-empty and fully substituted. A partially-templated string must never
// reach the runtime.
func joinSegments(source, processing, sink string) (string, error) {
	for _, seg := range []string{source, processing, sink} {
		if strings.TrimSpace(seg) == "" {
			return "", fmt.Errorf("pipeline: empty graph segment")
		}
		if strings.Contains(seg, "%!") {
			return "", fmt.Errorf("pipeline: unsubstituted parameter in segment %q", seg)
		}
	}
	return source + " ! " + processing + " ! " + sink, nil
}

func isVideoFile(source string) bool {
	for _, ext := range []string{".mp4", ".avi", ".mkv"} {
		if strings.HasSuffix(source, ext) {
			return true
		}
	}
	return false
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
