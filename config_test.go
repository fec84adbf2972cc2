package reaction

import (
	"image/color"
	"testing"
	"time"
)

func TestConfig_TargetBitrate(t *testing.T) {
	c := DefaultConfig()
	tests := []struct {
		width, height int
		want          int
	}{
		{1280, 720, 2_304_000},
		{1920, 1080, 5_184_000},
		{3840, 2160, 8_000_000},
		{640, 360, 576_000},
	}
	for _, tt := range tests {
		if got := c.TargetBitrate(tt.width, tt.height); got != tt.want {
			t.Errorf("TargetBitrate(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	def := DefaultConfig()

	if got.FPS != 30 || got.DefaultCanvas != def.DefaultCanvas {
		t.Errorf("FPS/canvas = %d %+v", got.FPS, got.DefaultCanvas)
	}
	if got.MaxBitrateBps != 8_000_000 || got.BitsPerPixel != 2.5 {
		t.Errorf("bitrate = %d, %v bpp", got.MaxBitrateBps, got.BitsPerPixel)
	}
	if got.FlushInterval != time.Second || got.ElapsedInterval != time.Second {
		t.Errorf("intervals = %v, %v", got.FlushInterval, got.ElapsedInterval)
	}
	if got.Layout != DefaultCompositionLayout() {
		t.Errorf("layout = %+v", got.Layout)
	}
	if got.PipAspectFallback != 4.0/3.0 {
		t.Errorf("PiP aspect fallback = %v", got.PipAspectFallback)
	}
	if got.ThumbnailSeek != time.Second || got.ThumbnailQuality != 80 {
		t.Errorf("thumbnail = %v q%d", got.ThumbnailSeek, got.ThumbnailQuality)
	}
	if got.Audio != DefaultAudioEncoderConfig() {
		t.Errorf("audio = %+v", got.Audio)
	}
	if got.PlaceholderURL != PlaceholderClipURL {
		t.Errorf("placeholder URL = %q", got.PlaceholderURL)
	}
}

func TestConfig_WithDefaultsKeepsValues(t *testing.T) {
	c := Config{
		FPS:              24,
		ThumbnailQuality: 95,
		ThumbnailSeek:    2 * time.Second,
		BorderColor:      color.RGBA{R: 1, A: 255},
		Layout:           CompositionLayout{Mode: LayoutPictureInPicture, PipSizePercent: 20},
	}.withDefaults()

	if c.FPS != 24 || c.ThumbnailQuality != 95 || c.ThumbnailSeek != 2*time.Second {
		t.Errorf("overrides lost: %d fps, q%d, %v", c.FPS, c.ThumbnailQuality, c.ThumbnailSeek)
	}
	if c.BorderColor != (color.RGBA{R: 1, A: 255}) {
		t.Errorf("border color = %v", c.BorderColor)
	}
	if c.Layout.Mode != LayoutPictureInPicture {
		t.Errorf("layout mode = %v", c.Layout.Mode)
	}

	if q := (Config{ThumbnailQuality: 150}).withDefaults().ThumbnailQuality; q != 80 {
		t.Errorf("out of range quality = %d, want default", q)
	}
}
