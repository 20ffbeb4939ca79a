package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Source acquires local capture streams.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// AcquireWithFallback tries the preferred constraints first and falls back
// to basic ones when they cannot be satisfied.
func AcquireWithFallback(ctx context.Context, src Source, preferred, fallback Constraints) (*LocalStream, error) {
	stream, err := src.Acquire(ctx, preferred)
	if err == nil {
		return stream, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Warn("Preferred media constraints failed, trying fallback", "error", err)

	stream, err = src.Acquire(ctx, fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}
	return stream, nil
}

// Frames written by the synthetic source: an Opus DTX silence frame and a
// placeholder VP8 payload.
var (
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	vp8Blank    = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x02, 0x00, 0x02, 0x00}
)

const (
	audioFrameDuration = 20 * time.Millisecond
	streamLabel        = "meshcall"
)

// SyntheticSource produces tracks that carry silence and blank video. A
// terminal has no camera, but peers still need real RTP flowing to see the
// remote stream arrive.
type SyntheticSource struct {
	// Deny makes every acquisition fail, simulating a missing permission.
	Deny bool
}

// Acquire creates an Opus and/or VP8 track and starts pumping frames into
// them until the stream is stopped.
func (s SyntheticSource) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if s.Deny {
		return nil, ErrMediaAccess
	}
	if !c.Audio && !c.Video {
		return nil, errors.New("at least one of audio or video must be requested")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tracks []*Track
	if c.Audio {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamLabel,
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		tracks = append(tracks, newTrack(KindAudio, local))
	}
	if c.Video {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamLabel,
		)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, newTrack(KindVideo, local))
	}

	frameRate := c.FrameRate
	if frameRate <= 0 {
		frameRate = 15
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, t := range tracks {
		wg.Add(1)
		go func(t *Track) {
			defer wg.Done()
			pump(t, frameRate, done)
		}(t)
	}

	stop := func() {
		close(done)
		wg.Wait()
	}
	return NewLocalStream(tracks, stop), nil
}

func pump(t *Track, frameRate int, done <-chan struct{}) {
	interval := audioFrameDuration
	frame := opusSilence
	if t.kind == KindVideo {
		interval = time.Second / time.Duration(frameRate)
		frame = vp8Blank
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// Unbound tracks return nil; write errors only mean no peer is
			// listening yet.
			_ = t.local.WriteSample(pionmedia.Sample{Data: frame, Duration: interval})
		}
	}
}
