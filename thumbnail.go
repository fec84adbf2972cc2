package reaction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gogpu/gg"
)

// Thumbnail is a JPEG still of a recording.
type Thumbnail struct {
	JPEG   []byte
	Width  int
	Height int
	At     time.Duration // Position of the captured frame
}

// ThumbnailExtractor grabs a still from a finished recording.
type ThumbnailExtractor struct {
	seek    time.Duration
	quality int
	decoder FrameDecoder
}

// NewThumbnailExtractor creates an extractor using the thumbnail settings of
// config. A nil decoder uses the built-in VP8 keyframe decoder.
func NewThumbnailExtractor(config Config, decoder FrameDecoder) *ThumbnailExtractor {
	config = config.withDefaults()
	if decoder == nil {
		decoder = NewVP8KeyframeDecoder()
	}
	return &ThumbnailExtractor{
		seek:    config.ThumbnailSeek,
		quality: config.ThumbnailQuality,
		decoder: decoder,
	}
}

// SeekTarget returns the position captured for a recording of the given
// duration: the configured seek time, or the end of shorter recordings.
func (e *ThumbnailExtractor) SeekTarget(duration time.Duration) time.Duration {
	return min(e.seek, duration)
}

// Extract returns a JPEG thumbnail of output.
func (e *ThumbnailExtractor) Extract(ctx context.Context, output []byte) ([]byte, error) {
	t, err := e.ExtractThumbnail(ctx, output)
	if err != nil {
		return nil, err
	}
	return t.JPEG, nil
}

// ExtractThumbnail decodes output, seeks to SeekTarget and encodes the frame
// at its native size.
func (e *ThumbnailExtractor) ExtractThumbnail(ctx context.Context, output []byte) (Thumbnail, error) {
	if err := ctx.Err(); err != nil {
		return Thumbnail{}, fmt.Errorf("%w: %w", ErrThumbnailExtractionFailed, err)
	}
	clip, err := demuxContainer(output)
	if err != nil {
		return Thumbnail{}, fmt.Errorf("%w: decoding recording: %w", ErrThumbnailExtractionFailed, err)
	}
	target := e.SeekTarget(clip.Duration)
	idx := clip.keyframeAt(target)
	if idx < 0 {
		return Thumbnail{}, fmt.Errorf("%w: no frame at %v", ErrThumbnailExtractionFailed, target)
	}
	frame := clip.Frames[idx]
	img, err := e.decoder.DecodeFrame(frame.Data)
	if err != nil {
		return Thumbnail{}, fmt.Errorf("%w: decoding frame at %v: %w", ErrThumbnailExtractionFailed, frame.Timestamp, err)
	}

	data, err := e.encode(img)
	if err != nil {
		return Thumbnail{}, fmt.Errorf("%w: %w", ErrThumbnailExtractionFailed, err)
	}
	b := img.Bounds()
	logger.Debugf(ctx, "thumbnail %dx%d at %v (target %v): %d bytes", b.Dx(), b.Dy(), frame.Timestamp, target, len(data))
	return Thumbnail{
		JPEG:   data,
		Width:  b.Dx(),
		Height: b.Dy(),
		At:     frame.Timestamp,
	}, nil
}

func (e *ThumbnailExtractor) encode(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(gg.ImageBufFromImage(img), 0, 0)

	var buf bytes.Buffer
	if err := dc.EncodeJPEG(&buf, e.quality); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
