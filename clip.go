package reaction

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
)

// ResolvedClip is what the clip resolver returns for a clip ID.
type ResolvedClip struct {
	PlaybackURL string
}

// ClipResolver maps clip IDs to playable URLs.
type ClipResolver interface {
	Resolve(ctx context.Context, clipID string) (ResolvedClip, error)
}

// ClipResolverFunc adapts a function to ClipResolver.
type ClipResolverFunc func(ctx context.Context, clipID string) (ResolvedClip, error)

func (f ClipResolverFunc) Resolve(ctx context.Context, clipID string) (ResolvedClip, error) {
	return f(ctx, clipID)
}

// ClipMetadata is known once a decode handle is open.
type ClipMetadata struct {
	Width    int
	Height   int
	Duration time.Duration // Zero when unbounded
}

// ClipHandle is an open decode handle of one source clip.
type ClipHandle interface {
	io.Closer

	Metadata() ClipMetadata

	// FrameAt returns the frame to show at playback position t.
	FrameAt(t time.Duration) (image.Image, error)
}

// ClipDecoder opens decode handles for playback URLs.
type ClipDecoder interface {
	Open(ctx context.Context, playbackURL string) (ClipHandle, error)
}

// SourceClip describes the loaded source clip.
type SourceClip struct {
	ID            string
	PlaybackURL   string
	NaturalWidth  int // Zero until metadata is loaded
	NaturalHeight int
	Duration      time.Duration
	CurrentTime   time.Duration
	IsPlaying     bool
	Placeholder   bool // PlaybackURL is the placeholder clip
}

// PlaybackState is the part of the playback that survives a handle
// replacement.
type PlaybackState struct {
	Time      time.Duration
	IsPlaying bool
}

// SourcePlayback plays the source clip on a clock and exposes the frame at
// the current position.
type SourcePlayback struct {
	resolver       ClipResolver
	decoder        ClipDecoder
	clock          clock.Clock
	placeholderURL string
	onWarning      func(error)

	ready readyNotifier

	mu        sync.RWMutex
	clip      SourceClip
	handle    ClipHandle
	position  time.Duration // Position at playingSince
	playing   bool
	startedAt time.Time
}

// SourcePlaybackConfig wires a SourcePlayback.
type SourcePlaybackConfig struct {
	Resolver       ClipResolver
	Decoder        ClipDecoder
	Clock          clock.Clock
	PlaceholderURL string
	OnWarning      func(error) // Non-fatal problems, e.g. placeholder fallback
}

// NewSourcePlayback creates an empty playback.
func NewSourcePlayback(config SourcePlaybackConfig) *SourcePlayback {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.PlaceholderURL == "" {
		config.PlaceholderURL = PlaceholderClipURL
	}
	if config.Decoder == nil {
		config.Decoder = NewContainerClipDecoder(nil, nil)
	}
	return &SourcePlayback{
		resolver:       config.Resolver,
		decoder:        config.Decoder,
		clock:          config.Clock,
		placeholderURL: config.PlaceholderURL,
		onWarning:      config.OnWarning,
	}
}

// Load resolves clipID and opens it. When resolution or opening fails the
// placeholder clip is played instead and a warning wrapping
// ErrClipLoadFailed is reported; Load only fails if the placeholder cannot
// be opened either.
func (p *SourcePlayback) Load(ctx context.Context, clipID string) (SourceClip, error) {
	url, placeholder := p.resolve(ctx, clipID)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseLocked(ctx)
	p.clip = SourceClip{ID: clipID, PlaybackURL: url, Placeholder: placeholder}
	if err := p.openLocked(ctx); err != nil {
		return SourceClip{}, err
	}
	return p.snapshotClipLocked(), nil
}

func (p *SourcePlayback) resolve(ctx context.Context, clipID string) (string, bool) {
	if p.resolver == nil {
		return clipID, false
	}
	resolved, err := p.resolver.Resolve(ctx, clipID)
	if err == nil && resolved.PlaybackURL == "" {
		err = fmt.Errorf("empty playback URL")
	}
	if err != nil {
		p.warn(ctx, fmt.Errorf("resolving clip %q: %w: %v", clipID, ErrClipLoadFailed, err))
		return p.placeholderURL, true
	}
	return resolved.PlaybackURL, false
}

// Reload replaces the decode handle with a fresh one on the same URL. The
// old handle is released first. Position and play state are reset; use
// Snapshot and Restore around it.
func (p *SourcePlayback) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clip.PlaybackURL == "" {
		return fmt.Errorf("no clip loaded: %w", ErrClipLoadFailed)
	}
	p.releaseLocked(ctx)
	return p.openLocked(ctx)
}

func (p *SourcePlayback) openLocked(ctx context.Context) error {
	p.ready.set(ReadyStateNotReady)

	handle, err := p.decoder.Open(ctx, p.clip.PlaybackURL)
	if err != nil && !p.clip.Placeholder {
		p.warn(ctx, fmt.Errorf("opening clip %q: %w: %v", p.clip.ID, ErrClipLoadFailed, err))
		p.clip.PlaybackURL = p.placeholderURL
		p.clip.Placeholder = true
		handle, err = p.decoder.Open(ctx, p.clip.PlaybackURL)
	}
	if err != nil {
		return fmt.Errorf("opening %q: %w: %v", p.clip.PlaybackURL, ErrClipLoadFailed, err)
	}

	md := handle.Metadata()
	p.handle = handle
	p.clip.NaturalWidth = md.Width
	p.clip.NaturalHeight = md.Height
	p.clip.Duration = md.Duration
	p.position = 0
	p.playing = false

	logger.Debugf(ctx, "clip %q loaded: %dx%d, %v", p.clip.ID, md.Width, md.Height, md.Duration)
	p.ready.set(ReadyStateMetadataLoaded)
	p.ready.set(ReadyStateCanPlay)
	return nil
}

func (p *SourcePlayback) warn(ctx context.Context, err error) {
	logger.Warnf(ctx, "%v", err)
	if p.onWarning != nil {
		p.onWarning(err)
	}
}

// SetPlaying starts or pauses playback. Failures are reported as warnings.
// Playing at the end of the clip restarts it.
func (p *SourcePlayback) SetPlaying(ctx context.Context, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		if playing {
			p.warn(ctx, fmt.Errorf("cannot play: no clip is ready"))
		}
		return
	}
	now := p.clock.Now()
	pos := p.positionLocked(now)
	if playing {
		if p.clip.Duration > 0 && pos >= p.clip.Duration {
			pos = 0
		}
		p.position = pos
		p.startedAt = now
		p.playing = true
		return
	}
	p.position = pos
	p.playing = false
}

// Seek moves the playback position, clamped to the clip.
func (p *SourcePlayback) Seek(t time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t < 0 {
		t = 0
	}
	if p.clip.Duration > 0 && t > p.clip.Duration {
		t = p.clip.Duration
	}
	p.position = t
	p.startedAt = p.clock.Now()
}

// positionLocked returns the playback position at now. Playback stops
// itself at the end of a bounded clip.
func (p *SourcePlayback) positionLocked(now time.Time) time.Duration {
	pos := p.position
	if p.playing {
		pos += now.Sub(p.startedAt)
	}
	if p.clip.Duration > 0 && pos >= p.clip.Duration {
		pos = p.clip.Duration
	}
	return pos
}

// CurrentTime returns the playback position.
func (p *SourcePlayback) CurrentTime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionLocked(p.clock.Now())
}

// IsPlaying reports whether the clip is playing and not at its end.
func (p *SourcePlayback) IsPlaying() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isPlayingLocked()
}

func (p *SourcePlayback) isPlayingLocked() bool {
	if !p.playing {
		return false
	}
	return p.clip.Duration <= 0 || p.positionLocked(p.clock.Now()) < p.clip.Duration
}

// Snapshot captures the position and play state.
func (p *SourcePlayback) Snapshot() PlaybackState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PlaybackState{
		Time:      p.positionLocked(p.clock.Now()),
		IsPlaying: p.isPlayingLocked(),
	}
}

// Restore seeks to the snapshot position and re-applies its play state.
func (p *SourcePlayback) Restore(ctx context.Context, state PlaybackState) {
	p.Seek(state.Time)
	p.SetPlaying(ctx, state.IsPlaying)
}

// Clip returns the loaded clip with its current position.
func (p *SourcePlayback) Clip() SourceClip {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotClipLocked()
}

func (p *SourcePlayback) snapshotClipLocked() SourceClip {
	c := p.clip
	c.CurrentTime = p.positionLocked(p.clock.Now())
	c.IsPlaying = p.isPlayingLocked()
	return c
}

// ReadyState returns the current readiness.
func (p *SourcePlayback) ReadyState() ReadyState {
	return p.ready.get()
}

// OnReadyStateChange registers a readiness listener.
func (p *SourcePlayback) OnReadyStateChange(l ReadyStateListener) {
	p.ready.subscribe(l)
}

// Dimensions returns the natural size, zero until metadata is loaded.
func (p *SourcePlayback) Dimensions() (int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.handle == nil {
		return 0, 0
	}
	return p.clip.NaturalWidth, p.clip.NaturalHeight
}

// CurrentImage returns the frame at the current position, or nil.
func (p *SourcePlayback) CurrentImage() image.Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.handle == nil {
		return nil
	}
	img, err := p.handle.FrameAt(p.positionLocked(p.clock.Now()))
	if err != nil {
		return nil
	}
	return img
}

// Release closes the decode handle.
func (p *SourcePlayback) Release(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(ctx)
}

func (p *SourcePlayback) releaseLocked(ctx context.Context) {
	if p.handle == nil {
		return
	}
	if err := p.handle.Close(); err != nil {
		logger.Debugf(ctx, "closing clip handle: %v", err)
	}
	p.handle = nil
	p.playing = false
	p.ready.set(ReadyStateNotReady)
}
