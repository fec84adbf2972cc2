//go:build !cgo

package reaction

import (
	"fmt"
)

// NewDefaultEncoderFactory returns a factory whose encoders are unavailable:
// VP8 and Opus encoding need cgo.
func NewDefaultEncoderFactory() EncoderFactory {
	return unsupportedEncoderFactory{}
}

type unsupportedEncoderFactory struct{}

func (unsupportedEncoderFactory) NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	return nil, fmt.Errorf("%s encoding requires cgo: %w", config.Codec, ErrCodecNotSupported)
}

func (unsupportedEncoderFactory) NewAudioEncoder(track AudioTrack, config AudioEncoderConfig) (AudioEncoder, error) {
	return nil, fmt.Errorf("%s encoding requires cgo: %w", config.Codec, ErrCodecNotSupported)
}
