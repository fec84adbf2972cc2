package reaction

import (
	"image/color"
	"time"
)

// Config holds the tunables of a recorder session.
type Config struct {
	FPS           int            // Render and capture rate
	DefaultCanvas CanvasGeometry // Canvas used until the clip size is known

	MaxBitrateBps    int     // Upper bound of the video bitrate
	BitsPerPixel     float64 // Video bitrate per canvas pixel
	KeyframeInterval int     // Frames between forced keyframes
	FlushInterval    time.Duration
	ElapsedInterval  time.Duration

	Layout            CompositionLayout
	PipAspectFallback float64 // Webcam aspect ratio used before the webcam reports its size

	PlaceholderURL   string // Played when a clip cannot be resolved
	Background       color.RGBA
	PlaceholderColor color.RGBA
	BorderColor      color.RGBA
	BorderWidth      float64

	ThumbnailSeek    time.Duration
	ThumbnailQuality int

	Audio AudioEncoderConfig
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		FPS:               30,
		DefaultCanvas:     CanvasGeometry{Width: 1280, Height: 720},
		MaxBitrateBps:     8_000_000,
		BitsPerPixel:      2.5,
		KeyframeInterval:  30,
		FlushInterval:     time.Second,
		ElapsedInterval:   time.Second,
		Layout:            DefaultCompositionLayout(),
		PipAspectFallback: 4.0 / 3.0,
		PlaceholderURL:    PlaceholderClipURL,
		Background:        color.RGBA{A: 255},
		PlaceholderColor:  color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 255},
		BorderColor:       color.RGBA{R: 255, G: 255, B: 255, A: 255},
		BorderWidth:       4,
		ThumbnailSeek:     time.Second,
		ThumbnailQuality:  80,
		Audio:             DefaultAudioEncoderConfig(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FPS <= 0 {
		c.FPS = def.FPS
	}
	if c.DefaultCanvas.Width <= 0 || c.DefaultCanvas.Height <= 0 {
		c.DefaultCanvas = def.DefaultCanvas
	}
	if c.MaxBitrateBps <= 0 {
		c.MaxBitrateBps = def.MaxBitrateBps
	}
	if c.BitsPerPixel <= 0 {
		c.BitsPerPixel = def.BitsPerPixel
	}
	if c.KeyframeInterval <= 0 {
		c.KeyframeInterval = def.KeyframeInterval
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.ElapsedInterval <= 0 {
		c.ElapsedInterval = def.ElapsedInterval
	}
	if c.Layout == (CompositionLayout{}) {
		c.Layout = def.Layout
	}
	if c.PipAspectFallback <= 0 {
		c.PipAspectFallback = def.PipAspectFallback
	}
	if c.PlaceholderURL == "" {
		c.PlaceholderURL = def.PlaceholderURL
	}
	if c.Background == (color.RGBA{}) {
		c.Background = def.Background
	}
	if c.PlaceholderColor == (color.RGBA{}) {
		c.PlaceholderColor = def.PlaceholderColor
	}
	if c.BorderColor == (color.RGBA{}) {
		c.BorderColor = def.BorderColor
	}
	if c.BorderWidth <= 0 {
		c.BorderWidth = def.BorderWidth
	}
	if c.ThumbnailSeek <= 0 {
		c.ThumbnailSeek = def.ThumbnailSeek
	}
	if c.ThumbnailQuality <= 0 || c.ThumbnailQuality > 100 {
		c.ThumbnailQuality = def.ThumbnailQuality
	}
	c.Audio = c.Audio.withDefaults()
	return c
}

// TargetBitrate returns min(MaxBitrateBps, width*height*BitsPerPixel).
func (c Config) TargetBitrate(width, height int) int {
	bps := int(float64(width) * float64(height) * c.BitsPerPixel)
	return min(bps, c.MaxBitrateBps)
}
