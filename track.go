package reaction

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
)

// Re-export pion's RTPCodecType for convenience
type RTPCodecType = webrtc.RTPCodecType

const (
	RTPCodecTypeUnknown = webrtc.RTPCodecTypeUnknown
	RTPCodecTypeAudio   = webrtc.RTPCodecTypeAudio
	RTPCodecTypeVideo   = webrtc.RTPCodecTypeVideo
)

// TrackState represents the state of a track.
type TrackState int

const (
	TrackStateLive  TrackState = iota // Track is active and producing media
	TrackStateEnded                   // Track has been stopped
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MediaStreamTrack represents a single captured audio or video track.
type MediaStreamTrack interface {
	io.Closer

	// ID returns the unique identifier for this track.
	ID() string

	// Kind returns the track kind (audio or video).
	Kind() RTPCodecType

	// Label returns a human-readable label for the track source.
	Label() string

	// DeviceID returns the ID of the device backing the track.
	DeviceID() string

	// State returns the current track state.
	State() TrackState

	// OnEnded sets a callback for when the track ends.
	OnEnded(callback func())
}

// VideoTrack is a MediaStreamTrack that produces video frames.
type VideoTrack interface {
	MediaStreamTrack

	// ReadFrame blocks until the next video frame is available.
	// The returned frame is only valid until the next call.
	ReadFrame(ctx context.Context) (*VideoFrame, error)

	// Settings returns the actual video settings.
	Settings() VideoTrackSettings
}

// VideoTrackSettings describes the actual video track settings.
type VideoTrackSettings struct {
	Width     int
	Height    int
	FrameRate int
	DeviceID  string
}

// AudioTrack is a MediaStreamTrack that produces audio samples.
type AudioTrack interface {
	MediaStreamTrack

	// ReadSamples blocks until the next chunk of samples is available.
	ReadSamples(ctx context.Context) (*AudioSamples, error)

	// Settings returns the actual audio settings.
	Settings() AudioTrackSettings
}

// AudioTrackSettings describes the actual audio track settings.
type AudioTrackSettings struct {
	SampleRate   int
	ChannelCount int
	DeviceID     string
}

// BaseTrack provides common functionality for tracks.
type BaseTrack struct {
	id       string
	label    string
	deviceID string
	kind     RTPCodecType
	state    atomic.Int32
	endedCb  func()
	mu       sync.RWMutex
}

// NewBaseTrack creates a new live base track with a random ID.
func NewBaseTrack(kind RTPCodecType, deviceID, label string) *BaseTrack {
	t := &BaseTrack{
		id:       uuid.NewString(),
		label:    label,
		deviceID: deviceID,
		kind:     kind,
	}
	t.state.Store(int32(TrackStateLive))
	return t
}

func (t *BaseTrack) ID() string         { return t.id }
func (t *BaseTrack) Kind() RTPCodecType { return t.kind }
func (t *BaseTrack) Label() string      { return t.label }
func (t *BaseTrack) DeviceID() string   { return t.deviceID }

func (t *BaseTrack) State() TrackState {
	return TrackState(t.state.Load())
}

// SetState updates the state and fires the ended callback once.
func (t *BaseTrack) SetState(state TrackState) {
	old := TrackState(t.state.Swap(int32(state)))
	if state == TrackStateEnded && old != TrackStateEnded {
		t.mu.RLock()
		cb := t.endedCb
		t.mu.RUnlock()
		if cb != nil {
			go cb()
		}
	}
}

func (t *BaseTrack) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endedCb = callback
}

// MediaStream is a set of tracks acquired together. Closing it ends every
// track; the tracks stay listed so their final state can be inspected.
type MediaStream struct {
	id     string
	tracks []MediaStreamTrack
	closed bool
	mu     sync.RWMutex
}

// NewMediaStream creates a new empty media stream.
func NewMediaStream(tracks ...MediaStreamTrack) *MediaStream {
	return &MediaStream{
		id:     uuid.NewString(),
		tracks: tracks,
	}
}

func (s *MediaStream) ID() string { return s.id }

// Active returns whether any track in the stream is live.
func (s *MediaStream) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.State() == TrackStateLive {
			return true
		}
	}
	return false
}

func (s *MediaStream) GetVideoTracks() []VideoTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []VideoTrack
	for _, t := range s.tracks {
		if vt, ok := t.(VideoTrack); ok {
			result = append(result, vt)
		}
	}
	return result
}

func (s *MediaStream) GetAudioTracks() []AudioTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []AudioTrack
	for _, t := range s.tracks {
		if at, ok := t.(AudioTrack); ok {
			result = append(result, at)
		}
	}
	return result
}

// Close stops every track in the stream. Further calls are no-ops.
func (s *MediaStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tracks := append([]MediaStreamTrack(nil), s.tracks...)
	s.mu.Unlock()

	var result *multierror.Error
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
