package reaction

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// demuxIVF reads every frame of an IVF stream.
func demuxIVF(r io.Reader) (*demuxedClip, error) {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("parsing ivf: %w", err)
	}

	clip := &demuxedClip{
		Width:  int(header.Width),
		Height: int(header.Height),
	}
	switch header.FourCC {
	case "VP80":
		clip.Codec = VideoCodecVP8
	case "VP90":
		clip.Codec = VideoCodecVP9
	}

	num, den := int64(header.TimebaseNumerator), int64(header.TimebaseDenominator)
	if num <= 0 || den <= 0 {
		num, den = 1, 30
	}
	for {
		payload, fh, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A truncated tail is not fatal: keep what was read.
			if len(clip.Frames) > 0 {
				break
			}
			return nil, fmt.Errorf("reading ivf frame: %w", err)
		}
		clip.Frames = append(clip.Frames, demuxedFrame{
			Timestamp: time.Duration(int64(fh.Timestamp) * num * int64(time.Second) / den),
			Keyframe:  clip.Codec == VideoCodecVP8 && isVP8Keyframe(payload),
			Data:      payload,
		})
	}
	clip.Duration = framesEnd(clip.Frames, time.Duration(num*int64(time.Second)/den))
	return clip, nil
}
