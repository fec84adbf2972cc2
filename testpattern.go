package reaction

import (
	"context"
	"encoding/binary"
	"image/color"
	"io"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternSolidColor                      // Solid color
	PatternMovingBox                       // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// TestPatternConfig configures the synthetic camera and microphone.
type TestPatternConfig struct {
	Width   int         // Frame width (default: 640)
	Height  int         // Frame height (default: 480)
	FPS     int         // Frames per second (default: 30)
	Pattern PatternType // Pattern type (default: MovingBox)

	// For SolidColor pattern
	Solid color.RGBA

	// For Checkerboard pattern
	CheckerSize int // Size of each checker square (default: 32)

	SampleRate int     // Microphone sample rate (default: 48000)
	Channels   int     // Microphone channels (default: 1)
	ToneHz     float64 // Sine tone frequency, 0 for silence
	ChunkSize  time.Duration

	Clock clock.Clock
}

// DefaultTestPatternConfig returns a 640x480 (4:3) moving-box camera and a
// 440 Hz microphone.
func DefaultTestPatternConfig() TestPatternConfig {
	return TestPatternConfig{
		Width:       640,
		Height:      480,
		FPS:         30,
		Pattern:     PatternMovingBox,
		CheckerSize: 32,
		SampleRate:  48000,
		Channels:    1,
		ToneHz:      440,
		ChunkSize:   20 * time.Millisecond,
	}
}

func (c TestPatternConfig) withDefaults() TestPatternConfig {
	def := DefaultTestPatternConfig()
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.Height <= 0 {
		c.Height = def.Height
	}
	if c.FPS <= 0 {
		c.FPS = def.FPS
	}
	if c.CheckerSize <= 0 {
		c.CheckerSize = def.CheckerSize
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

const (
	testPatternCameraID     = "test-pattern-camera"
	testPatternMicrophoneID = "test-tone-microphone"
)

// TestPatternProvider is a DeviceProvider with one synthetic camera and one
// synthetic microphone. It tracks how many tracks are open at once.
type TestPatternProvider struct {
	config TestPatternConfig

	mu           sync.Mutex
	denied       bool
	openVideo    int
	openAudio    int
	maxOpenVideo int
	opened       int
}

// NewTestPatternProvider creates a synthetic device provider.
func NewTestPatternProvider(config TestPatternConfig) *TestPatternProvider {
	return &TestPatternProvider{config: config.withDefaults()}
}

var _ DeviceProvider = (*TestPatternProvider)(nil)

// SetPermissionDenied makes every subsequent open fail with
// ErrPermissionDenied.
func (p *TestPatternProvider) SetPermissionDenied(denied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = denied
}

// OpenVideoTracks returns the number of camera tracks currently open.
func (p *TestPatternProvider) OpenVideoTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openVideo
}

// OpenAudioTracks returns the number of microphone tracks currently open.
func (p *TestPatternProvider) OpenAudioTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openAudio
}

// MaxConcurrentVideoTracks returns the highest number of camera tracks that
// were ever open at the same time.
func (p *TestPatternProvider) MaxConcurrentVideoTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOpenVideo
}

// TotalOpened returns how many tracks were opened in total.
func (p *TestPatternProvider) TotalOpened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *TestPatternProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{{DeviceID: testPatternCameraID, Kind: DeviceKindVideoInput, Label: "Test Pattern Camera"}}, nil
}

func (p *TestPatternProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{{DeviceID: testPatternMicrophoneID, Kind: DeviceKindAudioInput, Label: "Test Tone Microphone"}}, nil
}

func (p *TestPatternProvider) OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error) {
	if deviceID == "" {
		deviceID = testPatternCameraID
	}
	if deviceID != testPatternCameraID {
		return nil, ErrNoDeviceFound
	}

	p.mu.Lock()
	if p.denied {
		p.mu.Unlock()
		return nil, ErrPermissionDenied
	}
	p.openVideo++
	p.opened++
	if p.openVideo > p.maxOpenVideo {
		p.maxOpenVideo = p.openVideo
	}
	p.mu.Unlock()

	cfg := p.config
	if constraints != nil && constraints.FrameRate > 0 {
		cfg.FPS = constraints.FrameRate
	}
	return newTestPatternVideoTrack(p, cfg, deviceID), nil
}

func (p *TestPatternProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	if deviceID == "" {
		deviceID = testPatternMicrophoneID
	}
	if deviceID != testPatternMicrophoneID {
		return nil, ErrNoDeviceFound
	}

	p.mu.Lock()
	if p.denied {
		p.mu.Unlock()
		return nil, ErrPermissionDenied
	}
	p.openAudio++
	p.opened++
	p.mu.Unlock()

	cfg := p.config
	if constraints != nil {
		if constraints.SampleRate > 0 {
			cfg.SampleRate = constraints.SampleRate
		}
		if constraints.ChannelCount > 0 {
			cfg.Channels = constraints.ChannelCount
		}
	}
	return newTestToneAudioTrack(p, cfg, deviceID), nil
}

func (p *TestPatternProvider) release(kind RTPCodecType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch kind {
	case RTPCodecTypeVideo:
		p.openVideo--
	case RTPCodecTypeAudio:
		p.openAudio--
	}
}

// testPatternVideoTrack renders the configured pattern into a reused I420
// buffer, one frame per clock tick. The first frame is delivered immediately.
type testPatternVideoTrack struct {
	*BaseTrack
	provider *TestPatternProvider
	config   TestPatternConfig
	ticker   *clock.Ticker
	started  time.Time

	mu     sync.Mutex
	frame  *VideoFrame
	count  uint64
	closed chan struct{}
	once   sync.Once
}

func newTestPatternVideoTrack(p *TestPatternProvider, cfg TestPatternConfig, deviceID string) *testPatternVideoTrack {
	interval := time.Second / time.Duration(cfg.FPS)
	return &testPatternVideoTrack{
		BaseTrack: NewBaseTrack(RTPCodecTypeVideo, deviceID, "Test Pattern Camera"),
		provider:  p,
		config:    cfg,
		ticker:    cfg.Clock.Ticker(interval),
		started:   cfg.Clock.Now(),
		frame:     NewI420Frame(cfg.Width, cfg.Height),
		closed:    make(chan struct{}),
	}
}

func (t *testPatternVideoTrack) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	t.mu.Lock()
	first := t.count == 0
	t.mu.Unlock()

	if !first {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.closed:
			return nil, io.EOF
		case <-t.ticker.C:
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return nil, io.EOF
	default:
	}
	drawTestPattern(t.frame, t.config, t.count)
	t.count++
	t.frame.Timestamp = t.config.Clock.Since(t.started).Nanoseconds()
	t.frame.Duration = (time.Second / time.Duration(t.config.FPS)).Nanoseconds()
	return t.frame, nil
}

func (t *testPatternVideoTrack) Settings() VideoTrackSettings {
	return VideoTrackSettings{
		Width:     t.config.Width,
		Height:    t.config.Height,
		FrameRate: t.config.FPS,
		DeviceID:  t.DeviceID(),
	}
}

func (t *testPatternVideoTrack) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.ticker.Stop()
		t.provider.release(RTPCodecTypeVideo)
		t.SetState(TrackStateEnded)
	})
	return nil
}

// testToneAudioTrack produces a sine tone in S16 chunks, one per tick.
type testToneAudioTrack struct {
	*BaseTrack
	provider *TestPatternProvider
	config   TestPatternConfig
	ticker   *clock.Ticker
	started  time.Time

	mu     sync.Mutex
	phase  float64
	closed chan struct{}
	once   sync.Once
}

func newTestToneAudioTrack(p *TestPatternProvider, cfg TestPatternConfig, deviceID string) *testToneAudioTrack {
	return &testToneAudioTrack{
		BaseTrack: NewBaseTrack(RTPCodecTypeAudio, deviceID, "Test Tone Microphone"),
		provider:  p,
		config:    cfg,
		ticker:    cfg.Clock.Ticker(cfg.ChunkSize),
		started:   cfg.Clock.Now(),
		closed:    make(chan struct{}),
	}
}

func (t *testToneAudioTrack) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, io.EOF
	case <-t.ticker.C:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := int(int64(t.config.SampleRate) * int64(t.config.ChunkSize) / int64(time.Second))
	s := &AudioSamples{
		Data:        make([]byte, n*t.config.Channels*2),
		SampleRate:  t.config.SampleRate,
		Channels:    t.config.Channels,
		SampleCount: n,
		Format:      AudioFormatS16,
		Timestamp:   t.config.Clock.Since(t.started).Nanoseconds(),
	}
	if t.config.ToneHz <= 0 {
		return s, nil
	}
	step := 2 * math.Pi * t.config.ToneHz / float64(t.config.SampleRate)
	i := 0
	for range n {
		v := int16(math.Sin(t.phase) * 0.25 * math.MaxInt16)
		t.phase += step
		for range t.config.Channels {
			binary.LittleEndian.PutUint16(s.Data[i:], uint16(v))
			i += 2
		}
	}
	t.phase = math.Mod(t.phase, 2*math.Pi)
	return s, nil
}

func (t *testToneAudioTrack) Settings() AudioTrackSettings {
	return AudioTrackSettings{
		SampleRate:   t.config.SampleRate,
		ChannelCount: t.config.Channels,
		DeviceID:     t.DeviceID(),
	}
}

func (t *testToneAudioTrack) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.ticker.Stop()
		t.provider.release(RTPCodecTypeAudio)
		t.SetState(TrackStateEnded)
	})
	return nil
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

// drawTestPattern fills an I420 frame with the configured pattern.
func drawTestPattern(f *VideoFrame, cfg TestPatternConfig, n uint64) {
	switch cfg.Pattern {
	case PatternGradient:
		fillI420(f, func(x, y int) (uint8, uint8, uint8) {
			v := uint8(x * 255 / f.Width)
			return v, v, v
		})
	case PatternCheckerboard:
		size := cfg.CheckerSize
		fillI420(f, func(x, y int) (uint8, uint8, uint8) {
			if ((x/size)+(y/size))%2 == 0 {
				return 235, 235, 235
			}
			return 16, 16, 16
		})
	case PatternSolidColor:
		fillI420(f, func(x, y int) (uint8, uint8, uint8) {
			return cfg.Solid.R, cfg.Solid.G, cfg.Solid.B
		})
	case PatternMovingBox:
		drawMovingBox(f, n)
	default:
		barWidth := max(f.Width/8, 1)
		fillI420(f, func(x, y int) (uint8, uint8, uint8) {
			rgb := colorBarsRGB[min(x/barWidth, 7)]
			return rgb[0], rgb[1], rgb[2]
		})
	}
}

func fillI420(f *VideoFrame, rgbAt func(x, y int) (uint8, uint8, uint8)) {
	w, h := f.Width, f.Height
	cw := f.Stride[1]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yy, cb, cr := color.RGBToYCbCr(rgbAt(x, y))
			f.Data[0][y*f.Stride[0]+x] = yy
			if x%2 == 0 && y%2 == 0 {
				idx := (y/2)*cw + x/2
				f.Data[1][idx] = cb
				f.Data[2][idx] = cr
			}
		}
	}
}

// drawMovingBox draws a white box circling the frame center on black.
func drawMovingBox(f *VideoFrame, n uint64) {
	w, h := f.Width, f.Height
	for i := range f.Data[0] {
		f.Data[0][i] = 16
	}
	for i := range f.Data[1] {
		f.Data[1][i] = 128
		f.Data[2][i] = 128
	}

	boxSize := max(min(w, h)/5, 2)
	radius := float64(min(w, h)) / 4
	angle := float64(n) * 0.05 // Radians per frame
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			f.Data[0][y*f.Stride[0]+x] = 235
		}
	}
}
