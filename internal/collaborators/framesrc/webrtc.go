package framesrc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/asgard/fovea/internal/tracking"
)

// Decoder turns one RTP sample's reassembled payload into a decoded BGR
// frame. Codec-specific decode (VP8/H264/raw) lives behind this seam so
// the ingest plumbing below stays codec-agnostic, the same separation
// internal/api/webrtc.SFU draws between transport (Session/Peer) and
// media handling (OnTrack callback).
type Decoder interface {
	Decode(sample []byte, w, h int) (tracking.Frame, error)
}

// WebRTCSource is a live FrameSource fed by a single inbound video track
// of a pion PeerConnection, grounded on internal/api/webrtc.SFU's
// Peer/OnTrack wiring.
type WebRTCSource struct {
	w, h    int
	decoder Decoder
	logger  *logrus.Logger

	mu      sync.Mutex
	latest  tracking.Frame
	haveOne bool
}

// NewWebRTCSource constructs a source for a track of known resolution.
// Resolution is fixed for the session per spec.md §3; renegotiation to a
// different resolution is out of scope.
func NewWebRTCSource(w, h int, decoder Decoder, logger *logrus.Logger) *WebRTCSource {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebRTCSource{w: w, h: h, decoder: decoder, logger: logger}
}

// Attach registers this source's OnTrack handler against a peer
// connection, the same registration point as SFU.Peer.OnTrack.
func (s *WebRTCSource) Attach(pc *webrtc.PeerConnection) {
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		s.readTrack(track)
	})
}

func (s *WebRTCSource) readTrack(track *webrtc.TrackRemote) {
	var sample []byte
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return // track ended or connection closed
		}
		sample = appendPayload(sample, pkt)
		if pkt.Marker {
			// Marker bit closes a video frame (RTP spec); hand the
			// reassembled sample to the decoder and start the next one.
			s.decodeAndStore(sample)
			sample = nil
		}
	}
}

func appendPayload(sample []byte, pkt *rtp.Packet) []byte {
	return append(sample, pkt.Payload...)
}

func (s *WebRTCSource) decodeAndStore(sample []byte) {
	frame, err := s.decoder.Decode(sample, s.w, s.h)
	if err != nil {
		s.logger.WithError(err).Debug("frame decode failed, dropping sample")
		return
	}
	s.mu.Lock()
	s.latest = frame
	s.haveOne = true
	s.mu.Unlock()
}

// Resolution implements tracking.FrameSource.
func (s *WebRTCSource) Resolution(ctx context.Context) (int, int, error) {
	return s.w, s.h, nil
}

// Read implements tracking.FrameSource: returns the most recently
// decoded frame, or ok=false if none has arrived yet.
func (s *WebRTCSource) Read(ctx context.Context) (tracking.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveOne {
		return tracking.Frame{}, false, nil
	}
	return s.latest, true, nil
}

// ErrUnsupportedCodec is returned by a Decoder that cannot handle the
// negotiated codec.
var ErrUnsupportedCodec = fmt.Errorf("framesrc: unsupported codec")
