package rtspserver

// Package rtspserver restreams the detection graph's H264 output over RTSP.
// The launch description is the template; the graph is materialized once, on the
// first DESCRIBE, and shared by every subsequent session. The graph's appsink
// hands us byte-stream access units, which we packetize and write to the shared
// server stream.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/cyclopcam/logs"
	"github.com/edgevision/dsdetect/pkg/gstrun"
	"github.com/edgevision/dsdetect/pkg/pipeline"
)

const rtpClockRate = 90000

type Server struct {
	log         logs.Log
	open        gstrun.Opener
	launch      string
	port        int
	mountPath   string
	payloadType uint8

	rtsp *gortsplib.Server

	// Shared graph instance, materialized on first DESCRIBE.
	mutex     sync.Mutex
	stream    *gortsplib.ServerStream
	media     *description.Media
	graph     gstrun.Graph
	encoder   *rtph264.Encoder
	startedAt time.Time
	drainStop chan bool
}

// NewServer creates a restreaming server for the given graph description.
// open materializes the description; normally gstrun.Open.
func NewServer(log logs.Log, open gstrun.Opener, desc *pipeline.Descriptor, port int, mountPath string) *Server {
	return &Server{
		log:         log,
		open:        open,
		launch:      desc.Launch,
		port:        port,
		mountPath:   mountPath,
		payloadType: desc.PayloadType,
	}
}

// Run serves RTSP until ctx is cancelled or the server fails. Cancellation stops
// the listener and the shared graph; clients are not torn down individually.
func (s *Server) Run(ctx context.Context) error {
	s.rtsp = &gortsplib.Server{
		Handler:     s,
		RTSPAddress: fmt.Sprintf(":%v", s.port),
	}
	if err := s.rtsp.Start(); err != nil {
		return fmt.Errorf("failed to start RTSP server: %w", err)
	}
	s.log.Infof("RTSP server started on port %v", s.port)
	s.log.Infof("Stream available at rtsp://localhost:%v%v", s.port, s.mountPath)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.rtsp.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		s.log.Infof("Interrupted, stopping RTSP server")
		s.rtsp.Close()
		<-serverErr
	case err = <-serverErr:
		s.rtsp.Close()
	}
	s.teardown()
	return err
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (s *Server) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	s.log.Infof("Client connected: %v", ctx.Conn.NetConn().RemoteAddr())
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose.
func (s *Server) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	s.log.Infof("Client disconnected: %v", ctx.Conn.NetConn().RemoteAddr())
}

// OnSessionOpen implements gortsplib.ServerHandlerOnSessionOpen.
func (s *Server) OnSessionOpen(ctx *gortsplib.ServerHandlerOnSessionOpenCtx) {
	s.log.Infof("New stream session created")
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose.
func (s *Server) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	s.log.Infof("Stream session closed")
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (s *Server) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if ctx.Path != s.mountPath {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	stream, err := s.ensureStream()
	if err != nil {
		s.log.Errorf("Failed to materialize pipeline: %v", err)
		return &base.Response{StatusCode: base.StatusInternalServerError}, nil, err
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (s *Server) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if ctx.Path != s.mountPath {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	stream, err := s.ensureStream()
	if err != nil {
		return &base.Response{StatusCode: base.StatusInternalServerError}, nil, err
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (s *Server) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	s.log.Infof("Media prepared, playing %v", ctx.Path)
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// ensureStream materializes the shared graph instance on first use.
func (s *Server) ensureStream() (*gortsplib.ServerStream, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stream != nil {
		return s.stream, nil
	}

	graph, err := s.open(s.launch)
	if err != nil {
		return nil, err
	}

	initialTimestamp := uint32(0)
	encoder := &rtph264.Encoder{
		PayloadType:      s.payloadType,
		InitialTimestamp: &initialTimestamp,
	}
	if err := encoder.Init(); err != nil {
		graph.Stop()
		return nil, err
	}

	media := &description.Media{
		Type: description.MediaTypeVideo,
		Formats: []format.Format{&format.H264{
			PayloadTyp:        s.payloadType,
			PacketizationMode: 1,
		}},
	}
	stream := gortsplib.NewServerStream(s.rtsp, &description.Session{
		Medias: []*description.Media{media},
	})

	s.graph = graph
	s.encoder = encoder
	s.media = media
	s.stream = stream
	s.startedAt = time.Now()

	// The graph has not started yet, so a failure here can still be unwound
	// cleanly and retried on the next DESCRIBE.
	fail := func(err error) (*gortsplib.ServerStream, error) {
		graph.Stop()
		stream.Close()
		s.graph = nil
		s.encoder = nil
		s.media = nil
		s.stream = nil
		return nil, err
	}
	if err := graph.OnSample(pipeline.RestreamSinkName, s.writeAccessUnit); err != nil {
		return fail(err)
	}
	if err := graph.Start(); err != nil {
		return fail(err)
	}

	s.drainStop = make(chan bool)
	go s.drainBus(graph, s.drainStop)

	s.log.Infof("Media constructed: pipeline materialized for %v", s.mountPath)
	return stream, nil
}

// writeAccessUnit packetizes one H264 access unit and writes it to the stream.
// Called from the graph's streaming thread.
func (s *Server) writeAccessUnit(data []byte) {
	au, err := h264.AnnexBUnmarshal(data)
	if err != nil {
		s.log.Warnf("Dropping malformed access unit: %v", err)
		return
	}
	pkts, err := s.encoder.Encode(au)
	if err != nil {
		s.log.Warnf("Failed to packetize access unit: %v", err)
		return
	}
	// The encoder timestamps relative to zero; shift to stream time.
	elapsed := uint32(time.Since(s.startedAt).Seconds() * rtpClockRate)
	for _, pkt := range pkts {
		pkt.Timestamp += elapsed
		s.stream.WritePacketRTP(s.media, pkt)
	}
}

// drainBus logs execution-status messages from the shared graph. Purely
// diagnostic; no control flow depends on these.
func (s *Server) drainBus(graph gstrun.Graph, stop chan bool) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg := graph.Poll(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Kind {
		case gstrun.MessageEOS:
			s.log.Infof("Restream pipeline reached end of stream")
		case gstrun.MessageError:
			if msg.Debug != "" {
				s.log.Errorf("Restream pipeline error: %v (%v)", msg.Err, msg.Debug)
			} else {
				s.log.Errorf("Restream pipeline error: %v", msg.Err)
			}
		case gstrun.MessageStateChanged:
			if msg.FromTopLevel {
				s.log.Infof("Restream pipeline state changed from %v to %v", msg.OldState, msg.NewState)
			}
		}
	}
}

func (s *Server) teardown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.teardownLocked()
}

// teardownLocked stops the graph before closing the stream, so that the sample
// callback has quiesced by the time the stream goes away. Fields are left set;
// writes to a closed stream are harmless and the process is exiting anyway.
func (s *Server) teardownLocked() {
	if s.drainStop != nil {
		close(s.drainStop)
		s.drainStop = nil
	}
	if s.graph != nil {
		s.graph.Stop()
	}
	if s.stream != nil {
		s.stream.Close()
	}
}
