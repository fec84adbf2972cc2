// Core frame and sample types used across the reaction package.
package reaction

import (
	"image"
	"image/color"
	"time"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatRGBA32:
		return "RGBA32"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatRGBA32:
		return 1 // Packed
	default:
		return 0
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit PCM, little endian, interleaved
	AudioFormatF32                    // 32-bit float
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// VideoFrame represents a raw I420 video frame.
// Sources may reuse the plane buffers: callers that keep a frame beyond the
// next read must Clone it.
type VideoFrame struct {
	Data      [][]byte    // Plane data
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Presentation timestamp in nanoseconds
	Duration  int64       // Frame duration in nanoseconds (optional)
}

// NewI420Frame allocates a zeroed I420 frame.
func NewI420Frame(width, height int) *VideoFrame {
	cw, ch := chromaSize(width, height)
	ySize := width * height
	buf := make([]byte, ySize+2*cw*ch)
	return &VideoFrame{
		Data:   [][]byte{buf[:ySize], buf[ySize : ySize+cw*ch], buf[ySize+cw*ch:]},
		Stride: []int{width, cw, cw},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// Image exposes an I420 frame as an image.YCbCr without copying.
// It returns nil for other pixel formats.
func (f *VideoFrame) Image() *image.YCbCr {
	if f.Format != PixelFormatI420 || len(f.Data) < 3 || len(f.Stride) < 3 {
		return nil
	}
	return &image.YCbCr{
		Y:              f.Data[0],
		Cb:             f.Data[1],
		Cr:             f.Data[2],
		YStride:        f.Stride[0],
		CStride:        f.Stride[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
}

// FrameFromImage converts any image into a freshly allocated I420 frame.
// 4:2:0 YCbCr images are copied plane by plane; everything else goes
// through RGB.
func FrameFromImage(img image.Image, timestamp time.Duration) *VideoFrame {
	b := img.Bounds()
	frame := NewI420Frame(b.Dx(), b.Dy())
	frame.Timestamp = timestamp.Nanoseconds()

	switch src := img.(type) {
	case *image.YCbCr:
		if src.SubsampleRatio == image.YCbCrSubsampleRatio420 {
			copyYCbCr420(frame, src)
			return frame
		}
	case *image.RGBA:
		rgbaToI420(frame, src)
		return frame
	}

	w, h := frame.Width, frame.Height
	cw := frame.Stride[1]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bb>>8))
			frame.Data[0][y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				idx := (y/2)*cw + x/2
				frame.Data[1][idx] = cb
				frame.Data[2][idx] = cr
			}
		}
	}
	return frame
}

func copyYCbCr420(dst *VideoFrame, src *image.YCbCr) {
	w, h := dst.Width, dst.Height
	cw, ch := chromaSize(w, h)
	for y := 0; y < h; y++ {
		off := src.YOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(dst.Data[0][y*w:(y+1)*w], src.Y[off:off+w])
	}
	for y := 0; y < ch; y++ {
		off := src.COffset(src.Rect.Min.X, src.Rect.Min.Y+2*y)
		copy(dst.Data[1][y*cw:(y+1)*cw], src.Cb[off:off+cw])
		copy(dst.Data[2][y*cw:(y+1)*cw], src.Cr[off:off+cw])
	}
}

func rgbaToI420(dst *VideoFrame, src *image.RGBA) {
	w, h := dst.Width, dst.Height
	cw := dst.Stride[1]
	for y := 0; y < h; y++ {
		row := src.Pix[(y)*src.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			yy, cb, cr := color.RGBToYCbCr(p[0], p[1], p[2])
			dst.Data[0][y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				idx := (y/2)*cw + x/2
				dst.Data[1][idx] = cb
				dst.Data[2][idx] = cr
			}
		}
	}
}

func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	cw, ch := chromaSize(width, height)
	return width*height + 2*cw*ch
}

// AudioSamples represents raw audio samples.
type AudioSamples struct {
	Data        []byte      // Sample data
	SampleRate  int         // Sample rate (e.g., 48000)
	Channels    int         // Number of channels (1 = mono, 2 = stereo)
	SampleCount int         // Number of samples (per channel)
	Format      AudioFormat // Sample format
	Timestamp   int64       // Capture timestamp in nanoseconds
}

// Duration returns the playback duration of the samples.
func (s *AudioSamples) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.SampleCount) * time.Second / time.Duration(s.SampleRate)
}

// Clone creates a deep copy of the audio samples.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := &AudioSamples{
		SampleRate:  s.SampleRate,
		Channels:    s.Channels,
		SampleCount: s.SampleCount,
		Format:      s.Format,
		Timestamp:   s.Timestamp,
	}
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return clone
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds encoded video data.
type EncodedFrame struct {
	Data      []byte        // Encoded bitstream data
	FrameType FrameType     // Key or delta frame
	Timestamp time.Duration // Presentation time relative to the recording start
	Duration  time.Duration // Frame duration
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// EncodedAudio holds encoded audio data.
type EncodedAudio struct {
	Data      []byte        // Encoded data (Opus packet)
	Timestamp time.Duration // Presentation time relative to the recording start
	Duration  time.Duration // Packet duration
}
