//go:build cgo

package reaction

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// NewDefaultEncoderFactory returns the libvpx/libopus encoders of
// pion/mediadevices.
func NewDefaultEncoderFactory() EncoderFactory {
	return &MediaDevicesEncoderFactory{}
}

// MediaDevicesEncoderFactory builds VP8 and Opus encoders with
// pion/mediadevices codecs.
type MediaDevicesEncoderFactory struct{}

var _ EncoderFactory = (*MediaDevicesEncoderFactory)(nil)

func (f *MediaDevicesEncoderFactory) NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	if config.Codec != VideoCodecVP8 {
		return nil, fmt.Errorf("%s: %w", config.Codec, ErrCodecNotSupported)
	}
	params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	params.BitRate = config.BitrateBps
	params.KeyFrameInterval = config.KeyframeInterval

	e := &vp8Encoder{config: config}
	rc, err := params.BuildVideoEncoder(video.ReaderFunc(e.next), prop.Media{
		Video: prop.Video{
			Width:       config.Width,
			Height:      config.Height,
			FrameRate:   float32(config.FPS),
			FrameFormat: frame.FormatI420,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("building vp8 encoder: %w", err)
	}
	e.rc = rc
	return e, nil
}

// vp8Encoder turns the pull-based mediadevices encoder into a push encoder:
// Encode stages the frame and reads exactly one packet.
type vp8Encoder struct {
	config VideoEncoderConfig
	rc     codec.ReadCloser

	mu      sync.Mutex
	pending image.Image
	closed  bool
}

func (e *vp8Encoder) next() (image.Image, func(), error) {
	img := e.pending
	e.pending = nil
	if img == nil {
		return nil, func() {}, io.EOF
	}
	return img, func() {}, nil
}

func (e *vp8Encoder) Encode(f *VideoFrame) (*EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, io.ErrClosedPipe
	}
	img := f.Image()
	if img == nil {
		return nil, fmt.Errorf("pixel format %s: %w", f.Format, ErrCodecNotSupported)
	}
	e.pending = img
	data, release, err := e.rc.Read()
	if err != nil {
		return nil, err
	}
	defer release()
	if len(data) == 0 {
		return nil, nil
	}

	out := &EncodedFrame{
		Data:      append([]byte(nil), data...),
		FrameType: FrameTypeDelta,
		Timestamp: time.Duration(f.Timestamp),
		Duration:  time.Duration(f.Duration),
	}
	if isVP8Keyframe(out.Data) {
		out.FrameType = FrameTypeKey
	}
	return out, nil
}

func (e *vp8Encoder) Codec() VideoCodec {
	return VideoCodecVP8
}

func (e *vp8Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.rc.Close()
}

func (f *MediaDevicesEncoderFactory) NewAudioEncoder(track AudioTrack, config AudioEncoderConfig) (AudioEncoder, error) {
	config = config.withDefaults()
	if config.Codec != AudioCodecOpus {
		return nil, fmt.Errorf("%s: %w", config.Codec, ErrCodecNotSupported)
	}
	sampleRate, err := opusInputRate(config, track.Settings())
	if err != nil {
		return nil, err
	}
	params, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	params.BitRate = config.BitrateBps
	params.Latency = opus.Latency(config.FrameDuration())
	if !params.Latency.Validate() {
		return nil, fmt.Errorf("opus frame size %v: %w", config.FrameDuration(), ErrCodecNotSupported)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var r audio.Reader
	if native, ok := track.(interface{ AudioReader() audio.Reader }); ok {
		r = native.AudioReader()
	} else {
		r = samplesReader(ctx, track)
	}

	// The encoder mixes the input down or up to ChannelCount.
	rc, err := params.BuildAudioEncoder(r, prop.Media{
		Audio: prop.Audio{
			ChannelCount: config.Channels,
			SampleRate:   sampleRate,
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building opus encoder: %w", err)
	}
	return &opusEncoder{rc: rc, cancel: cancel, frameSize: config.FrameDuration()}, nil
}

// samplesReader adapts an AudioTrack to a mediadevices audio reader.
func samplesReader(ctx context.Context, track AudioTrack) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		s, err := track.ReadSamples(ctx)
		if err != nil {
			return nil, func() {}, err
		}
		chunk := wave.NewInt16Interleaved(wave.ChunkInfo{
			Len:          s.SampleCount,
			Channels:     s.Channels,
			SamplingRate: s.SampleRate,
		})
		for i := range chunk.Data {
			if 2*i+1 >= len(s.Data) {
				break
			}
			chunk.Data[i] = int16(binary.LittleEndian.Uint16(s.Data[2*i:]))
		}
		return chunk, func() {}, nil
	})
}

type opusEncoder struct {
	rc        codec.ReadCloser
	cancel    context.CancelFunc
	frameSize time.Duration

	mu      sync.Mutex
	packets int64
	closed  bool
}

func (e *opusEncoder) ReadPacket(ctx context.Context) (*EncodedAudio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, release, err := e.rc.Read()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, io.EOF
		}
		return nil, err
	}
	defer release()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, io.EOF
	}
	pkt := &EncodedAudio{
		Data:      append([]byte(nil), data...),
		Timestamp: time.Duration(e.packets) * e.frameSize,
		Duration:  e.frameSize,
	}
	e.packets++
	return pkt, nil
}

func (e *opusEncoder) Codec() AudioCodec {
	return AudioCodecOpus
}

func (e *opusEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	return e.rc.Close()
}
