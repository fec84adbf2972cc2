package reaction

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// RecorderSessionConfig wires a RecorderSession. Nil collaborators get
// production defaults.
type RecorderSessionConfig struct {
	Config       Config
	Devices      DeviceProvider // Registered provider when nil
	Resolver     ClipResolver   // Clip IDs are used as playback URLs when nil
	ClipDecoder  ClipDecoder  // Container decoder on FrameDecoder when nil
	Encoders     EncoderFactory
	FrameDecoder FrameDecoder // Decodes clip frames and thumbnails; VP8 keyframes when nil
	Clock        clock.Clock

	OnWarning  func(error)
	OnComplete func(RecordingResult)
	OnError    func(error)
	OnElapsed  func(time.Duration)
}

// RecorderSession owns every component of one reaction recording: the
// capture session, the source clip, the compositor with its frame loop and
// the recorder. It records at most once.
type RecorderSession struct {
	id     string
	config Config

	preview    *PreviewHandle
	devices    *DeviceManager
	playback   *SourcePlayback
	compositor *Compositor
	scheduler  *FrameScheduler
	recorder   *Recorder
	thumbnails *ThumbnailExtractor

	mu     sync.Mutex // Serializes device, clip and layout changes
	closed bool
}

// NewRecorderSession creates an idle session.
func NewRecorderSession(cfg RecorderSessionConfig) *RecorderSession {
	config := cfg.Config.withDefaults()
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = ClipResolverFunc(func(_ context.Context, clipID string) (ResolvedClip, error) {
			return ResolvedClip{PlaybackURL: clipID}, nil
		})
	}

	s := &RecorderSession{
		id:      uuid.NewString(),
		config:  config,
		preview: NewPreviewHandle(),
	}
	s.devices = NewDeviceManager(cfg.Devices, s.preview)
	s.devices.SetConstraints(VideoConstraints{}, AudioConstraints{
		SampleRate:   config.Audio.SampleRate,
		ChannelCount: config.Audio.Channels,
	})
	if cfg.ClipDecoder == nil {
		cfg.ClipDecoder = NewContainerClipDecoder(nil, cfg.FrameDecoder)
	}
	s.playback = NewSourcePlayback(SourcePlaybackConfig{
		Resolver:       cfg.Resolver,
		Decoder:        cfg.ClipDecoder,
		Clock:          cfg.Clock,
		PlaceholderURL: config.PlaceholderURL,
		OnWarning:      cfg.OnWarning,
	})
	s.compositor = NewCompositor(compositorConfigFrom(config), cfg.Clock, s.playback, s.preview)
	s.compositor.SetLayout(config.Layout)
	s.scheduler = NewFrameScheduler(cfg.Clock, config.FPS, s.shouldRender, s.compositor.RenderFrame)
	s.recorder = NewRecorder(config, RecorderDeps{
		Streams:    s.devices,
		Playback:   s.playback,
		Compositor: s.compositor,
		Scheduler:  s.scheduler,
		Encoders:   cfg.Encoders,
		Clock:      cfg.Clock,
		OnComplete: cfg.OnComplete,
		OnError:    cfg.OnError,
		OnElapsed:  cfg.OnElapsed,
	})
	s.thumbnails = NewThumbnailExtractor(config, cfg.FrameDecoder)
	return s
}

// shouldRender is the single continue predicate of the frame loop.
func (s *RecorderSession) shouldRender() bool {
	return s.recorder.Capturing() || s.playback.IsPlaying()
}

func (s *RecorderSession) ID() string                      { return s.id }
func (s *RecorderSession) Devices() *DeviceManager         { return s.devices }
func (s *RecorderSession) Preview() *PreviewHandle         { return s.preview }
func (s *RecorderSession) Playback() *SourcePlayback       { return s.playback }
func (s *RecorderSession) Compositor() *Compositor         { return s.compositor }
func (s *RecorderSession) Scheduler() *FrameScheduler      { return s.scheduler }
func (s *RecorderSession) Recorder() *Recorder             { return s.recorder }
func (s *RecorderSession) Thumbnails() *ThumbnailExtractor { return s.thumbnails }

// ListDevices enumerates cameras and microphones.
func (s *RecorderSession) ListDevices(ctx context.Context) (DeviceList, error) {
	return s.devices.ListDevices(ctx)
}

// SelectDevices replaces the capture session. The previous tracks are
// stopped before the new devices are opened.
func (s *RecorderSession) SelectDevices(ctx context.Context, videoID, audioID string) (*StreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return nil, err
	}
	return s.devices.OpenSession(ctx, videoID, audioID)
}

// LoadClip replaces the source clip and sizes the canvas to it.
func (s *RecorderSession) LoadClip(ctx context.Context, clipID string) (SourceClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return SourceClip{}, err
	}
	clip, err := s.playback.Load(ctx, clipID)
	if err != nil {
		return clip, err
	}
	if err := s.compositor.Resize(CanvasFor(clip.NaturalWidth, clip.NaturalHeight, s.config.DefaultCanvas)); err != nil {
		return clip, err
	}
	s.scheduler.Kick(context.WithoutCancel(ctx))
	return clip, nil
}

// SetPlaying plays or pauses the source clip. Playing drives the frame loop
// for the live preview.
func (s *RecorderSession) SetPlaying(ctx context.Context, playing bool) {
	s.playback.SetPlaying(ctx, playing)
	if playing {
		s.scheduler.Kick(context.WithoutCancel(ctx))
	}
}

// Seek moves the source clip position.
func (s *RecorderSession) Seek(t time.Duration) {
	s.playback.Seek(t)
}

// Layout returns the current layout.
func (s *RecorderSession) Layout() CompositionLayout {
	return s.compositor.Layout()
}

// SetPipPosition moves the overlay. Allowed while recording.
func (s *RecorderSession) SetPipPosition(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.compositor.Layout()
	l.PipPositionX, l.PipPositionY = x, y
	s.compositor.SetLayout(l)
}

// SetPipSize resizes the overlay. Allowed while recording.
func (s *RecorderSession) SetPipSize(percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.compositor.Layout()
	l.PipSizePercent = percent
	s.compositor.SetLayout(l)
}

// SetLayoutMode switches between side-by-side and picture-in-picture. The
// capture session and the clip handle are reacquired, and the clip position
// and play state are carried over. Switching while recording fails with
// ErrRecordingActive.
func (s *RecorderSession) SetLayoutMode(ctx context.Context, mode LayoutMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return err
	}
	l := s.compositor.Layout()
	if l.Mode == mode {
		return nil
	}

	state := s.playback.Snapshot()
	if s.devices.Session() != nil {
		if _, err := s.devices.Reopen(ctx); err != nil {
			return fmt.Errorf("reopening devices for %s: %w", mode, err)
		}
	}
	if s.playback.Clip().PlaybackURL != "" {
		if err := s.playback.Reload(ctx); err != nil {
			return fmt.Errorf("reloading clip for %s: %w", mode, err)
		}
		s.playback.Restore(ctx, state)
	}

	l.Mode = mode
	s.compositor.SetLayout(l)
	logger.Debugf(ctx, "layout switched to %s at %v (playing=%t)", mode, state.Time, state.IsPlaying)
	s.scheduler.Kick(context.WithoutCancel(ctx))
	return nil
}

func (s *RecorderSession) checkIdleLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.recorder.State() == RecordingStateRecording {
		return ErrRecordingActive
	}
	return nil
}

// StartRecording starts the recorder.
func (s *RecorderSession) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.recorder.Start(ctx)
}

// StopRecording finalizes the recording. It is a no-op unless recording.
func (s *RecorderSession) StopRecording(ctx context.Context) (*RecordingResult, error) {
	return s.recorder.Stop(ctx)
}

// RecordingState returns the recorder state.
func (s *RecorderSession) RecordingState() RecordingState {
	return s.recorder.State()
}

// Elapsed returns the recording time shown to the user.
func (s *RecorderSession) Elapsed() time.Duration {
	return s.recorder.Elapsed()
}

// Frame returns a copy of the composited surface.
func (s *RecorderSession) Frame() image.Image {
	return s.compositor.Snapshot()
}

// Thumbnail extracts a JPEG still from the finished recording.
func (s *RecorderSession) Thumbnail(ctx context.Context) ([]byte, error) {
	result := s.recorder.Result()
	if result == nil {
		return nil, fmt.Errorf("%w: no finished recording", ErrThumbnailExtractionFailed)
	}
	return s.thumbnails.Extract(ctx, result.Output)
}

// Finish uploads the finished recording with a best-effort thumbnail.
func (s *RecorderSession) Finish(ctx context.Context, up Uploader) (PublishResult, error) {
	result := s.recorder.Result()
	if result == nil {
		return PublishResult{}, fmt.Errorf("%w: no finished recording", ErrUploadFailed)
	}
	thumb, err := s.thumbnails.Extract(ctx, result.Output)
	if err != nil {
		logger.Warnf(ctx, "continuing without thumbnail: %v", err)
	}
	return Publish(ctx, up, PublishRequest{
		SessionID: s.id,
		Recording: *result,
		Thumbnail: thumb,
	})
}

// Close discards any recording in progress and releases the clip and the
// capture devices.
func (s *RecorderSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	if err := s.recorder.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing recorder: %w", err))
	}
	s.scheduler.Stop()
	s.playback.Release(ctx)
	if err := s.devices.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("releasing devices: %w", err))
	}
	return result.ErrorOrNil()
}
