package reaction

import (
	"context"
	"encoding/binary"
	"errors"
	"image/color"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTestPatternConfig_Defaults(t *testing.T) {
	cfg := TestPatternConfig{}.withDefaults()

	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("Default dimensions = %dx%d, want 640x480", cfg.Width, cfg.Height)
	}
	if cfg.FPS != 30 {
		t.Errorf("Default FPS = %d, want 30", cfg.FPS)
	}
	if cfg.SampleRate != 48000 || cfg.Channels != 1 {
		t.Errorf("Default audio = %d Hz x %d, want 48000 Hz x 1", cfg.SampleRate, cfg.Channels)
	}
	if cfg.ChunkSize != 20*time.Millisecond {
		t.Errorf("Default chunk = %v, want 20ms", cfg.ChunkSize)
	}
	if cfg.Clock == nil {
		t.Error("Default clock is nil")
	}
}

func TestTestPatternVideoTrack_ReadFrame(t *testing.T) {
	mock := clock.NewMock()
	p := NewTestPatternProvider(TestPatternConfig{Width: 320, Height: 240, FPS: 30, Pattern: PatternColorBars, Clock: mock})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	track, err := p.OpenVideoDevice(ctx, "", nil)
	if err != nil {
		t.Fatalf("OpenVideoDevice failed: %v", err)
	}
	defer track.Close()

	// The first frame is delivered without waiting for a tick.
	frame, err := track.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Width != 320 || frame.Height != 240 {
		t.Errorf("Frame dimensions: %dx%d, want 320x240", frame.Width, frame.Height)
	}
	if frame.Format != PixelFormatI420 {
		t.Errorf("Frame format: %v, want I420", frame.Format)
	}
	if len(frame.Data[0]) != 320*240 || len(frame.Data[1]) != 160*120 || len(frame.Data[2]) != 160*120 {
		t.Errorf("Plane sizes: %d, %d, %d", len(frame.Data[0]), len(frame.Data[1]), len(frame.Data[2]))
	}
	if frame.Timestamp != 0 {
		t.Errorf("First timestamp = %d, want 0", frame.Timestamp)
	}

	next := make(chan *VideoFrame, 1)
	go func() {
		f, err := track.ReadFrame(ctx)
		if err != nil {
			close(next)
			return
		}
		next <- f
	}()
	time.Sleep(5 * time.Millisecond)
	mock.Add(time.Second / 30)

	f, ok := <-next
	if !ok {
		t.Fatal("second ReadFrame failed")
	}
	if f.Timestamp != (time.Second / 30).Nanoseconds() {
		t.Errorf("Second timestamp = %d, want %d", f.Timestamp, (time.Second / 30).Nanoseconds())
	}

	settings := track.Settings()
	if settings.Width != 320 || settings.Height != 240 || settings.FrameRate != 30 {
		t.Errorf("Settings = %+v", settings)
	}
}

func TestTestPatternVideoTrack_Close(t *testing.T) {
	p := NewTestPatternProvider(TestPatternConfig{Clock: clock.NewMock()})
	ctx := context.Background()

	track, err := p.OpenVideoDevice(ctx, "", nil)
	if err != nil {
		t.Fatalf("OpenVideoDevice failed: %v", err)
	}
	if _, err := track.ReadFrame(ctx); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	if err := track.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := track.Close(); err != nil {
		t.Errorf("Double close should not fail: %v", err)
	}
	if _, err := track.ReadFrame(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame after Close = %v, want EOF", err)
	}
	if track.State() != TrackStateEnded {
		t.Errorf("State = %v, want ended", track.State())
	}
	if n := p.OpenVideoTracks(); n != 0 {
		t.Errorf("OpenVideoTracks = %d after Close", n)
	}
}

func TestTestPatternVideoTrack_FrameRateConstraint(t *testing.T) {
	p := NewTestPatternProvider(TestPatternConfig{Clock: clock.NewMock()})
	track, err := p.OpenVideoDevice(context.Background(), "", &VideoConstraints{FrameRate: 15})
	if err != nil {
		t.Fatalf("OpenVideoDevice failed: %v", err)
	}
	defer track.Close()
	if fps := track.Settings().FrameRate; fps != 15 {
		t.Errorf("FrameRate = %d, want 15", fps)
	}
}

func TestTestToneAudioTrack_ReadSamples(t *testing.T) {
	mock := clock.NewMock()
	p := NewTestPatternProvider(TestPatternConfig{ToneHz: 440, Clock: mock})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	track, err := p.OpenAudioDevice(ctx, "", nil)
	if err != nil {
		t.Fatalf("OpenAudioDevice failed: %v", err)
	}
	defer track.Close()

	got := make(chan *AudioSamples, 1)
	go func() {
		s, err := track.ReadSamples(ctx)
		if err != nil {
			close(got)
			return
		}
		got <- s
	}()
	time.Sleep(5 * time.Millisecond)
	mock.Add(20 * time.Millisecond)

	s, ok := <-got
	if !ok {
		t.Fatal("ReadSamples failed")
	}
	if s.SampleCount != 960 || s.SampleRate != 48000 || s.Channels != 1 {
		t.Errorf("Samples = %d @ %d Hz x %d, want 960 @ 48000 Hz x 1", s.SampleCount, s.SampleRate, s.Channels)
	}
	if s.Format != AudioFormatS16 || len(s.Data) != 960*2 {
		t.Errorf("Data = %d bytes of %v", len(s.Data), s.Format)
	}
	if s.Duration() != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", s.Duration())
	}

	var peak int16
	for i := 0; i < len(s.Data); i += 2 {
		v := int16(binary.LittleEndian.Uint16(s.Data[i:]))
		peak = max(peak, v)
	}
	if peak < 1000 {
		t.Errorf("Tone peak = %d, want an audible sine", peak)
	}
}

func TestTestToneAudioTrack_CancelledRead(t *testing.T) {
	p := NewTestPatternProvider(TestPatternConfig{Clock: clock.NewMock()})
	track, err := p.OpenAudioDevice(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("OpenAudioDevice failed: %v", err)
	}
	defer track.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := track.ReadSamples(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadSamples = %v, want context.Canceled", err)
	}
}

func TestDrawTestPattern_AllPatterns(t *testing.T) {
	patterns := []PatternType{
		PatternColorBars,
		PatternGradient,
		PatternCheckerboard,
		PatternSolidColor,
		PatternMovingBox,
	}

	for _, pattern := range patterns {
		t.Run(pattern.String(), func(t *testing.T) {
			cfg := DefaultTestPatternConfig()
			cfg.Pattern = pattern
			cfg.Solid = color.RGBA{R: 255, G: 128, B: 64, A: 255}

			f := NewI420Frame(64, 48)
			for n := range uint64(3) {
				drawTestPattern(f, cfg, n)
			}
			var nonZero bool
			for _, v := range f.Data[0] {
				if v != 0 {
					nonZero = true
					break
				}
			}
			if !nonZero {
				t.Error("luma plane is empty")
			}
		})
	}
}

func TestDrawTestPattern_ColorBars(t *testing.T) {
	cfg := DefaultTestPatternConfig()
	cfg.Pattern = PatternColorBars
	f := NewI420Frame(80, 8)
	drawTestPattern(f, cfg, 0)

	for bar, rgb := range colorBarsRGB {
		want, _, _ := color.RGBToYCbCr(rgb[0], rgb[1], rgb[2])
		if got := f.Data[0][bar*10+5]; got != want {
			t.Errorf("bar %d luma = %d, want %d", bar, got, want)
		}
	}
}

func TestDrawTestPattern_MovingBoxMoves(t *testing.T) {
	cfg := DefaultTestPatternConfig()
	a, b := NewI420Frame(64, 64), NewI420Frame(64, 64)
	drawTestPattern(a, cfg, 0)
	drawTestPattern(b, cfg, 20)

	same := true
	for i := range a.Data[0] {
		if a.Data[0][i] != b.Data[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("moving box did not move")
	}
}

func TestPatternType_String(t *testing.T) {
	if PatternColorBars.String() != "ColorBars" || PatternType(42).String() != "Unknown" {
		t.Errorf("PatternType.String() = %q, %q", PatternColorBars.String(), PatternType(42).String())
	}
}
