package mesh

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrCaptureDenied marks microphone acquisition failures. Terminal
// for the current join attempt; never retried.
var ErrCaptureDenied = errors.New("microphone capture denied")

// Capture owns one local audio track. Stop releases the device; a
// stopped capture is never restarted, unmute acquires a fresh one.
type Capture interface {
	Track() webrtc.TrackLocal
	Stop()
}

// CaptureFunc acquires a capture. The default is NewSampleCapture;
// platform builds plug in their device layer here.
type CaptureFunc func(ctx context.Context) (Capture, error)

// SampleCapture backs the local track with a static sample track.
// Device IO feeds it through WriteSample; writes after Stop are
// swallowed so teardown never races the feeder.
type SampleCapture struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	stopped bool
}

func NewSampleCapture(ctx context.Context) (Capture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "jamroom",
	)
	if err != nil {
		return nil, errors.Join(ErrCaptureDenied, err)
	}
	return &SampleCapture{track: track}, nil
}

func (s *SampleCapture) Track() webrtc.TrackLocal { return s.track }

// WriteSample pushes one encoded audio sample onto the track.
func (s *SampleCapture) WriteSample(sample media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	return s.track.WriteSample(sample)
}

func (s *SampleCapture) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
