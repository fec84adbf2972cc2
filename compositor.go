package reaction

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gogpu/gg"
)

// VisualSource is an input the compositor can draw: the source clip or the
// live webcam preview. Readiness listeners must not call back into the
// source.
type VisualSource interface {
	ReadyState() ReadyState
	OnReadyStateChange(l ReadyStateListener)
	Dimensions() (width, height int)
	CurrentImage() image.Image
}

// CompositorConfig configures the compositor surface.
type CompositorConfig struct {
	Canvas            CanvasGeometry
	FPS               int
	Background        color.RGBA
	Placeholder       color.RGBA
	Border            color.RGBA
	BorderWidth       float64
	PipAspectFallback float64
}

// DefaultCompositorConfig returns a 1280x720, 30 fps surface.
func DefaultCompositorConfig() CompositorConfig {
	return compositorConfigFrom(DefaultConfig())
}

func compositorConfigFrom(c Config) CompositorConfig {
	return CompositorConfig{
		Canvas:            c.DefaultCanvas,
		FPS:               c.FPS,
		Background:        c.Background,
		Placeholder:       c.PlaceholderColor,
		Border:            c.BorderColor,
		BorderWidth:       c.BorderWidth,
		PipAspectFallback: c.PipAspectFallback,
	}
}

// Compositor draws the source clip and the webcam onto one surface,
// according to the current layout.
type Compositor struct {
	config CompositorConfig
	clock  clock.Clock
	source VisualSource
	webcam VisualSource

	sourceReady atomic.Bool
	webcamReady atomic.Bool

	mu      sync.Mutex
	dc      *gg.Context
	canvas  CanvasGeometry
	layout  CompositionLayout
	last    LayoutResult
	capture *CaptureStream
	frames  uint64
}

// NewCompositor creates a compositor drawing source and webcam.
func NewCompositor(config CompositorConfig, clk clock.Clock, source, webcam VisualSource) *Compositor {
	def := DefaultCompositorConfig()
	if config.Canvas.Width <= 0 || config.Canvas.Height <= 0 {
		config.Canvas = def.Canvas
	}
	if config.FPS <= 0 {
		config.FPS = def.FPS
	}
	if config.PipAspectFallback <= 0 {
		config.PipAspectFallback = def.PipAspectFallback
	}
	if clk == nil {
		clk = clock.New()
	}
	canvas := CanvasFor(0, 0, config.Canvas)

	c := &Compositor{
		config: config,
		clock:  clk,
		source: source,
		webcam: webcam,
		dc:     gg.NewContext(canvas.Width, canvas.Height),
		canvas: canvas,
		layout: DefaultCompositionLayout(),
	}

	c.sourceReady.Store(source.ReadyState() >= ReadyStateCanPlay)
	c.webcamReady.Store(webcam.ReadyState() >= ReadyStateCanPlay)
	source.OnReadyStateChange(func(s ReadyState) { c.sourceReady.Store(s >= ReadyStateCanPlay) })
	webcam.OnReadyStateChange(func(s ReadyState) { c.webcamReady.Store(s >= ReadyStateCanPlay) })
	return c
}

// SetLayout changes the layout used from the next frame on.
func (c *Compositor) SetLayout(l CompositionLayout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layout = l.Normalize()
}

// Layout returns the current layout.
func (c *Compositor) Layout() CompositionLayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

// Resize changes the surface size.
func (c *Compositor) Resize(g CanvasGeometry) error {
	g = CanvasFor(g.Width, g.Height, c.config.Canvas)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dc.Resize(g.Width, g.Height); err != nil {
		return fmt.Errorf("resizing surface to %dx%d: %w", g.Width, g.Height, err)
	}
	c.canvas = g
	return nil
}

// Canvas returns the surface size.
func (c *Compositor) Canvas() CanvasGeometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canvas
}

// LastLayout returns the geometry of the most recently rendered frame.
func (c *Compositor) LastLayout() LayoutResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Frames returns the number of rendered frames.
func (c *Compositor) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// RenderFrame draws one composite frame and hands it to the capture stream,
// if any.
func (c *Compositor) RenderFrame(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	in := LayoutInput{
		Canvas:            c.canvas,
		Layout:            c.layout,
		SourceReady:       c.sourceReady.Load(),
		WebcamReady:       c.webcamReady.Load(),
		PipAspectFallback: c.config.PipAspectFallback,
	}
	in.SourceWidth, in.SourceHeight = c.source.Dimensions()
	in.WebcamWidth, in.WebcamHeight = c.webcam.Dimensions()
	res := ComputeLayout(in)

	c.dc.ClearWithColor(gg.FromColor(c.config.Background))

	var errs []error
	errs = append(errs, c.drawPlacement(res.Source, c.source, in.SourceReady))
	errs = append(errs, c.drawPlacement(res.Webcam, c.webcam, in.WebcamReady))
	if res.Border {
		t := res.Webcam.Target
		c.dc.SetColor(c.config.Border)
		c.dc.SetLineWidth(c.config.BorderWidth)
		c.dc.DrawRectangle(t.X, t.Y, t.W, t.H)
		errs = append(errs, c.dc.Stroke())
	}

	c.last = res
	c.frames++

	if c.capture != nil {
		if c.capture.closed() {
			c.capture = nil
		} else {
			c.capture.push(c.clock.Now(), c.dc.Image())
		}
	}
	return errors.Join(errs...)
}

func (c *Compositor) drawPlacement(p Placement, src VisualSource, ready bool) error {
	var img image.Image
	if ready && !p.Placeholder {
		img = src.CurrentImage()
	}
	if img == nil {
		c.dc.SetColor(c.config.Placeholder)
		c.dc.DrawRectangle(p.Target.X, p.Target.Y, p.Target.W, p.Target.H)
		return c.dc.Fill()
	}
	c.dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:             p.Draw.X,
		Y:             p.Draw.Y,
		DstWidth:      p.Draw.W,
		DstHeight:     p.Draw.H,
		Interpolation: gg.InterpBilinear,
	})
	return nil
}

// Snapshot returns a copy of the surface.
func (c *Compositor) Snapshot() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.Image()
}

// CaptureStream exposes the surface as a frame stream of at most fps frames
// per second. Any previous capture stream is closed.
func (c *Compositor) CaptureStream(fps int) *CaptureStream {
	if fps <= 0 {
		fps = c.config.FPS
	}
	s := newCaptureStream(fps, c.clock.Now())

	c.mu.Lock()
	prev := c.capture
	c.capture = s
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return s
}

// CaptureStream is a live stream of composite frames. Timestamps are
// relative to the creation of the stream.
type CaptureStream struct {
	interval time.Duration
	start    time.Time
	frames   chan *VideoFrame

	mu      sync.Mutex
	done    bool
	hasLast bool
	last    time.Duration
	dropped uint64
}

const captureBuffer = 8

func newCaptureStream(fps int, start time.Time) *CaptureStream {
	return &CaptureStream{
		interval: time.Second / time.Duration(fps),
		start:    start,
		frames:   make(chan *VideoFrame, captureBuffer),
	}
}

func (s *CaptureStream) push(now time.Time, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	ts := now.Sub(s.start)
	if s.hasLast && ts-s.last < s.interval/2 {
		s.dropped++
		return
	}

	frame := FrameFromImage(img, ts)
	frame.Duration = s.interval.Nanoseconds()
	select {
	case s.frames <- frame:
		s.hasLast, s.last = true, ts
	default:
		s.dropped++
	}
}

// ReadFrame returns the next composite frame. After Close, buffered frames
// are still returned before io.EOF.
func (s *CaptureStream) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

// Dropped returns the number of frames that were not delivered.
func (s *CaptureStream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *CaptureStream) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close ends the stream.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.frames)
	}
	return nil
}
