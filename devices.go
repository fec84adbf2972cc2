package reaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// DeviceKind represents the type of media device.
type DeviceKind int

const (
	DeviceKindVideoInput DeviceKind = iota // Camera
	DeviceKindAudioInput                   // Microphone
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindVideoInput:
		return "videoinput"
	case DeviceKindAudioInput:
		return "audioinput"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a media input device.
type DeviceInfo struct {
	DeviceID string     // Unique identifier for the device
	Kind     DeviceKind // Device type
	Label    string     // Human-readable device name
}

// DeviceList is the result of a device enumeration.
type DeviceList struct {
	Video []DeviceInfo
	Audio []DeviceInfo
}

// VideoConstraints requested when opening a camera.
type VideoConstraints struct {
	Width     int // Requested width
	Height    int // Requested height
	FrameRate int // Requested framerate
}

// AudioConstraints requested when opening a microphone.
type AudioConstraints struct {
	SampleRate   int // Requested sample rate
	ChannelCount int // Requested channels
}

// DeviceProvider is implemented by capture backends.
// An empty deviceID opens the default device.
type DeviceProvider interface {
	// ListVideoDevices returns available video input devices.
	ListVideoDevices(ctx context.Context) ([]DeviceInfo, error)

	// ListAudioInputDevices returns available audio input devices.
	ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenVideoDevice opens a video input device.
	OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error)

	// OpenAudioDevice opens an audio input device.
	OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error)
}

// deviceRegistry holds the registered default device provider.
type deviceRegistry struct {
	provider DeviceProvider
	mu       sync.RWMutex
}

var globalDeviceRegistry = &deviceRegistry{}

// RegisterDeviceProvider registers the default device provider.
func RegisterDeviceProvider(provider DeviceProvider) {
	globalDeviceRegistry.mu.Lock()
	defer globalDeviceRegistry.mu.Unlock()
	globalDeviceRegistry.provider = provider
}

// GetDeviceProvider returns the registered device provider.
func GetDeviceProvider() DeviceProvider {
	globalDeviceRegistry.mu.RLock()
	defer globalDeviceRegistry.mu.RUnlock()
	return globalDeviceRegistry.provider
}

// StreamSession is a live camera+microphone capture session.
type StreamSession struct {
	stream *MediaStream
}

func (s *StreamSession) ID() string { return s.stream.ID() }

// VideoTrack returns the camera track, or nil.
func (s *StreamSession) VideoTrack() VideoTrack {
	if tracks := s.stream.GetVideoTracks(); len(tracks) > 0 {
		return tracks[0]
	}
	return nil
}

// AudioTrack returns the microphone track, or nil.
func (s *StreamSession) AudioTrack() AudioTrack {
	if tracks := s.stream.GetAudioTracks(); len(tracks) > 0 {
		return tracks[0]
	}
	return nil
}

// Active reports whether the session still has live tracks.
func (s *StreamSession) Active() bool {
	return s != nil && s.stream.Active()
}

// Stop stops every track of the session.
func (s *StreamSession) Stop() error {
	return s.stream.Close()
}

// DeviceManager enumerates capture devices and owns the single active
// StreamSession.
type DeviceManager struct {
	provider         DeviceProvider
	preview          *PreviewHandle
	videoConstraints VideoConstraints
	audioConstraints AudioConstraints

	mu            sync.Mutex
	session       *StreamSession
	selectedVideo string
	selectedAudio string
}

// NewDeviceManager creates a device manager on top of provider; a nil
// provider falls back to the registered one. Frames of every new session
// are shown on preview.
func NewDeviceManager(provider DeviceProvider, preview *PreviewHandle) *DeviceManager {
	if provider == nil {
		provider = GetDeviceProvider()
	}
	if preview == nil {
		preview = NewPreviewHandle()
	}
	return &DeviceManager{
		provider: provider,
		preview:  preview,
	}
}

// SetConstraints sets the constraints used when opening devices.
func (m *DeviceManager) SetConstraints(video VideoConstraints, audio AudioConstraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoConstraints = video
	m.audioConstraints = audio
}

// Preview returns the live preview handle.
func (m *DeviceManager) Preview() *PreviewHandle {
	return m.preview
}

// ListDevices acquires a throwaway capture session so that device labels
// are available, enumerates cameras and microphones, and releases the
// throwaway session again.
func (m *DeviceManager) ListDevices(ctx context.Context) (DeviceList, error) {
	if m.provider == nil {
		return DeviceList{}, fmt.Errorf("no device provider registered: %w", ErrNoDeviceFound)
	}

	m.mu.Lock()
	haveSession := m.session.Active()
	m.mu.Unlock()

	if !haveSession {
		if err := m.probeCapture(ctx); err != nil {
			return DeviceList{}, err
		}
	}

	video, err := m.provider.ListVideoDevices(ctx)
	if err != nil {
		return DeviceList{}, fmt.Errorf("failed to list video devices: %w", classifyCaptureError(err))
	}
	audio, err := m.provider.ListAudioInputDevices(ctx)
	if err != nil {
		return DeviceList{}, fmt.Errorf("failed to list audio devices: %w", classifyCaptureError(err))
	}
	if len(video) == 0 || len(audio) == 0 {
		return DeviceList{}, fmt.Errorf("%d cameras, %d microphones: %w", len(video), len(audio), ErrNoDeviceFound)
	}

	logger.Debugf(ctx, "found %d cameras and %d microphones", len(video), len(audio))
	return DeviceList{Video: video, Audio: audio}, nil
}

func (m *DeviceManager) probeCapture(ctx context.Context) error {
	video, err := m.provider.OpenVideoDevice(ctx, "", nil)
	if err != nil {
		err = classifyCaptureError(err)
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDeviceFound) {
			return err
		}
		logger.Warnf(ctx, "unable to open the default camera for enumeration: %v", err)
		return nil
	}
	audio, err := m.provider.OpenAudioDevice(ctx, "", nil)
	if cerr := video.Close(); cerr != nil {
		logger.Debugf(ctx, "closing throwaway camera track: %v", cerr)
	}
	if err != nil {
		err = classifyCaptureError(err)
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDeviceFound) {
			return err
		}
		logger.Warnf(ctx, "unable to open the default microphone for enumeration: %v", err)
		return nil
	}
	if cerr := audio.Close(); cerr != nil {
		logger.Debugf(ctx, "closing throwaway microphone track: %v", cerr)
	}
	return nil
}

// OpenSession replaces the active session with a new one on the given
// devices. The previous session's tracks are stopped before the new devices
// are acquired. Empty IDs select the default devices.
func (m *DeviceManager) OpenSession(ctx context.Context, videoID, audioID string) (*StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openSessionLocked(ctx, videoID, audioID)
}

// Reopen replaces the active session with a fresh one on the currently
// selected devices.
func (m *DeviceManager) Reopen(ctx context.Context) (*StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openSessionLocked(ctx, m.selectedVideo, m.selectedAudio)
}

func (m *DeviceManager) openSessionLocked(ctx context.Context, videoID, audioID string) (*StreamSession, error) {
	if m.provider == nil {
		return nil, fmt.Errorf("no device provider registered: %w", ErrNoDeviceFound)
	}
	if err := m.releaseLocked(ctx); err != nil {
		logger.Warnf(ctx, "stopping previous stream session: %v", err)
	}

	vc, ac := m.videoConstraints, m.audioConstraints
	video, err := m.provider.OpenVideoDevice(ctx, videoID, &vc)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %q: %w", videoID, acquisitionError(err))
	}
	audio, err := m.provider.OpenAudioDevice(ctx, audioID, &ac)
	if err != nil {
		if cerr := video.Close(); cerr != nil {
			logger.Debugf(ctx, "closing camera after microphone failure: %v", cerr)
		}
		return nil, fmt.Errorf("failed to open microphone %q: %w", audioID, acquisitionError(err))
	}

	session := &StreamSession{stream: NewMediaStream(video, audio)}

	m.session = session
	m.selectedVideo = videoID
	m.selectedAudio = audioID
	m.preview.Attach(context.WithoutCancel(ctx), video)

	logger.Debugf(ctx, "stream session %s: camera %q, microphone %q", session.ID(), video.Label(), audio.Label())
	return session, nil
}

// Session returns the active session, or nil.
func (m *DeviceManager) Session() *StreamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Close stops the active session.
func (m *DeviceManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(ctx)
}

func (m *DeviceManager) releaseLocked(ctx context.Context) error {
	if m.session == nil {
		return nil
	}
	session := m.session
	m.session = nil
	logger.Debugf(ctx, "stopping stream session %s", session.ID())
	// Stopping the tracks first unblocks a preview pump parked in a read
	// that does not watch its context.
	err := session.Stop()
	m.preview.Detach()
	return err
}

// acquisitionError maps a capture failure to the session-level taxonomy.
func acquisitionError(err error) error {
	err = classifyCaptureError(err)
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDeviceFound) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
