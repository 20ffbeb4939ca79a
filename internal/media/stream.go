// Package media provides the local capture side of a call: a LocalStream of
// audio and video tracks that the transport engine attaches to every peer
// session.
package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ErrMediaAccess is returned when no usable capture device or permission is
// available.
var ErrMediaAccess = errors.New("media access denied or no capture device")

// Kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Constraints describe what to capture. Zero dimensions mean "any".
type Constraints struct {
	Audio bool
	Video bool

	Width     int
	Height    int
	FrameRate int

	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints asks for 720p video and processed audio.
var DefaultConstraints = Constraints{
	Audio:            true,
	Video:            true,
	Width:            1280,
	Height:           720,
	FrameRate:        30,
	EchoCancellation: true,
	NoiseSuppression: true,
}

// BasicConstraints is the fallback when DefaultConstraints cannot be met.
var BasicConstraints = Constraints{Audio: true, Video: true}

// Track is one local capture track.
type Track struct {
	kind    Kind
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func newTrack(kind Kind, local *webrtc.TrackLocalStaticSample) *Track {
	t := &Track{kind: kind, local: local}
	t.enabled.Store(true)
	return t
}

func (t *Track) Kind() Kind { return t.kind }

// Local is the pion track to add to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutes or unmutes the track. A disabled track keeps flowing but
// carries silence or black frames, so peers see no renegotiation.
func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }

// LocalStream groups the tracks produced by one acquisition.
type LocalStream struct {
	id     string
	tracks []*Track

	stopOnce sync.Once
	stop     func()
	stopped  atomic.Bool
}

// NewLocalStream wraps tracks; stop is called once by StopAllTracks.
func NewLocalStream(tracks []*Track, stop func()) *LocalStream {
	return &LocalStream{
		id:     uuid.NewString(),
		tracks: tracks,
		stop:   stop,
	}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []*Track { return s.tracks }

func (s *LocalStream) tracksOf(kind Kind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// AudioTracks returns the audio tracks of the stream.
func (s *LocalStream) AudioTracks() []*Track { return s.tracksOf(KindAudio) }

// VideoTracks returns the video tracks of the stream.
func (s *LocalStream) VideoTracks() []*Track { return s.tracksOf(KindVideo) }

// ToggleAudio flips every audio track and returns the new state of the first.
func (s *LocalStream) ToggleAudio() bool { return s.toggle(KindAudio) }

// ToggleVideo flips every video track and returns the new state of the first.
func (s *LocalStream) ToggleVideo() bool { return s.toggle(KindVideo) }

func (s *LocalStream) toggle(kind Kind) bool {
	tracks := s.tracksOf(kind)
	for _, t := range tracks {
		t.SetEnabled(!t.Enabled())
	}
	return len(tracks) > 0 && tracks[0].Enabled()
}

// AudioEnabled reports whether the first audio track is enabled.
func (s *LocalStream) AudioEnabled() bool { return firstEnabled(s.AudioTracks()) }

// VideoEnabled reports whether the first video track is enabled.
func (s *LocalStream) VideoEnabled() bool { return firstEnabled(s.VideoTracks()) }

func firstEnabled(tracks []*Track) bool {
	return len(tracks) > 0 && tracks[0].Enabled()
}

// StopAllTracks releases the capture. It is safe to call more than once.
func (s *LocalStream) StopAllTracks() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.stop != nil {
			s.stop()
		}
	})
}

// Stopped reports whether StopAllTracks ran.
func (s *LocalStream) Stopped() bool { return s.stopped.Load() }
