package reaction

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec VideoCodec // Codec type (VP8, VP9)

	Width      int // Frame width
	Height     int // Frame height
	FPS        int // Target framerate
	BitrateBps int // Target bitrate in bits per second

	KeyframeInterval int // Frames between keyframes
}

// DefaultVideoEncoderConfig returns a VP8 configuration for the given
// canvas, with the bitrate derived from the canvas size.
func DefaultVideoEncoderConfig(width, height int) VideoEncoderConfig {
	def := DefaultConfig()
	return VideoEncoderConfig{
		Codec:            VideoCodecVP8,
		Width:            width,
		Height:           height,
		FPS:              def.FPS,
		BitrateBps:       def.TargetBitrate(width, height),
		KeyframeInterval: def.KeyframeInterval,
	}
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec      AudioCodec // Codec type (Opus)
	SampleRate int        // Requested capture rate (48000 for Opus)
	Channels   int        // Number of encoded channels (1 or 2)
	BitrateBps int        // Target bitrate in bits per second
	FrameSize  int        // Frame size in milliseconds (5, 10, 20, 40 or 60 for Opus)
}

// DefaultAudioEncoderConfig returns a default Opus configuration.
func DefaultAudioEncoderConfig() AudioEncoderConfig {
	return AudioEncoderConfig{
		Codec:      AudioCodecOpus,
		SampleRate: 48000,
		Channels:   1,
		BitrateBps: 64000,
		FrameSize:  20,
	}
}

func (c AudioEncoderConfig) withDefaults() AudioEncoderConfig {
	def := DefaultAudioEncoderConfig()
	if c.Codec == AudioCodecUnknown {
		c.Codec = def.Codec
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	if c.BitrateBps <= 0 {
		c.BitrateBps = def.BitrateBps
	}
	if c.FrameSize <= 0 {
		c.FrameSize = def.FrameSize
	}
	return c
}

// FrameDuration returns FrameSize as a duration.
func (c AudioEncoderConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameSize) * time.Millisecond
}

var (
	opusInputRates = []int{8000, 12000, 16000, 24000, 48000}
	opusFrameSizes = []int{5, 10, 20, 40, 60}
)

// opusInputRate checks config against what libopus accepts and returns the
// PCM rate the encoder must be created at: the negotiated rate of the
// capture track, or the configured one when the track does not report it.
func opusInputRate(config AudioEncoderConfig, settings AudioTrackSettings) (int, error) {
	if !slices.Contains(opusFrameSizes, config.FrameSize) {
		return 0, fmt.Errorf("opus frame size %v: %w", config.FrameDuration(), ErrCodecNotSupported)
	}
	rate := config.SampleRate
	if settings.SampleRate > 0 {
		rate = settings.SampleRate
	}
	if !slices.Contains(opusInputRates, rate) {
		return 0, fmt.Errorf("opus input at %d Hz: %w", rate, ErrCodecNotSupported)
	}
	return rate, nil
}

// VideoEncoder encodes raw video frames to compressed bitstream.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a video frame.
	// Returns nil if the encoder is buffering and no output is ready.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// Codec returns the codec type.
	Codec() VideoCodec
}

// AudioEncoder pulls samples from its track and produces encoded packets.
type AudioEncoder interface {
	io.Closer

	// ReadPacket blocks until the next packet is encoded. It returns io.EOF
	// after Close.
	ReadPacket(ctx context.Context) (*EncodedAudio, error)

	// Codec returns the codec type.
	Codec() AudioCodec
}

// EncoderFactory creates the encoders of a recording.
type EncoderFactory interface {
	NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error)
	NewAudioEncoder(track AudioTrack, config AudioEncoderConfig) (AudioEncoder, error)
}
