package reaction

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return webrtc.MimeTypeVP8
	case VideoCodecVP9:
		return webrtc.MimeTypeVP9
	default:
		return ""
	}
}

// MatroskaCodecID returns the codec ID used in WebM track entries.
func (c VideoCodec) MatroskaCodecID() string {
	switch c {
	case VideoCodecVP8:
		return "V_VP8"
	case VideoCodecVP9:
		return "V_VP9"
	default:
		return ""
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecOpus:
		return webrtc.MimeTypeOpus
	default:
		return ""
	}
}

// MatroskaCodecID returns the codec ID used in WebM track entries.
func (c AudioCodec) MatroskaCodecID() string {
	switch c {
	case AudioCodecOpus:
		return "A_OPUS"
	default:
		return ""
	}
}

// WebMMimeType is the MIME type of recorded output buffers.
const WebMMimeType = "video/webm"

// RecordingMimeType returns the full MIME type (with codecs) of a recording.
func RecordingMimeType(video VideoCodec, audio AudioCodec) string {
	var codecs []string
	for _, mime := range []string{video.MimeType(), audio.MimeType()} {
		if _, name, ok := strings.Cut(mime, "/"); ok {
			codecs = append(codecs, strings.ToLower(name))
		}
	}
	if len(codecs) == 0 {
		return WebMMimeType
	}
	return WebMMimeType + ";codecs=" + strings.Join(codecs, ",")
}

// isVP8Keyframe checks for VP8 keyframe signature.
// Per RFC 6386 Section 9.1, VP8 uncompressed data chunk:
//   - Byte 0: frame_type (1 bit), version (3 bits), show_frame (1 bit), partition_size (19 bits)
//   - Bytes 3-5 (keyframe only): start code 0x9D 0x01 0x2A followed by width/height
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 {
		return false
	}
	if data[0]&0x01 != 0 { // Not a keyframe
		return false
	}
	return data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A
}
