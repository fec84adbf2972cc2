package reaction

import (
	"bytes"
	"fmt"
	"image"

	"golang.org/x/image/vp8"
)

// VP8KeyframeDecoder decodes VP8 keyframes with golang.org/x/image/vp8.
// Interframes are rejected with ErrNotKeyframe.
type VP8KeyframeDecoder struct{}

// NewVP8KeyframeDecoder creates a keyframe decoder.
func NewVP8KeyframeDecoder() *VP8KeyframeDecoder {
	return &VP8KeyframeDecoder{}
}

var _ FrameDecoder = (*VP8KeyframeDecoder)(nil)

func (d *VP8KeyframeDecoder) DecodeFrame(data []byte) (image.Image, error) {
	if !isVP8Keyframe(data) {
		return nil, ErrNotKeyframe
	}
	dec := vp8.NewDecoder()
	dec.Init(bytes.NewReader(data), len(data))
	fh, err := dec.DecodeFrameHeader()
	if err != nil {
		return nil, fmt.Errorf("vp8 frame header: %w", err)
	}
	if !fh.KeyFrame {
		return nil, ErrNotKeyframe
	}
	img, err := dec.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("vp8 frame: %w", err)
	}
	return img, nil
}
