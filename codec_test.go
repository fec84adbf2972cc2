package reaction

import (
	"testing"
)

func TestVideoCodec_String(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecVP8, "VP8"},
		{VideoCodecVP9, "VP9"},
		{VideoCodecUnknown, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("VideoCodec.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoCodec_MimeType(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecVP8, "video/VP8"},
		{VideoCodecVP9, "video/VP9"},
		{VideoCodecUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			if got := tt.codec.MimeType(); got != tt.want {
				t.Errorf("VideoCodec.MimeType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatroskaCodecID(t *testing.T) {
	if got := VideoCodecVP8.MatroskaCodecID(); got != "V_VP8" {
		t.Errorf("VP8 codec ID = %q", got)
	}
	if got := AudioCodecOpus.MatroskaCodecID(); got != "A_OPUS" {
		t.Errorf("Opus codec ID = %q", got)
	}
	for _, id := range []string{"V_VP8", "V_VP9"} {
		if c := videoCodecFromMatroska(id); c.MatroskaCodecID() != id {
			t.Errorf("videoCodecFromMatroska(%q) = %v", id, c)
		}
	}
	if c := videoCodecFromMatroska("V_MPEG4/ISO/AVC"); c != VideoCodecUnknown {
		t.Errorf("H.264 should be unknown, got %v", c)
	}
}

func TestRecordingMimeType(t *testing.T) {
	tests := []struct {
		video VideoCodec
		audio AudioCodec
		want  string
	}{
		{VideoCodecVP8, AudioCodecOpus, "video/webm;codecs=vp8,opus"},
		{VideoCodecVP8, AudioCodecUnknown, "video/webm;codecs=vp8"},
		{VideoCodecVP9, AudioCodecOpus, "video/webm;codecs=vp9,opus"},
		{VideoCodecUnknown, AudioCodecOpus, "video/webm;codecs=opus"},
		{VideoCodecUnknown, AudioCodecUnknown, "video/webm"},
	}

	for _, tt := range tests {
		if got := RecordingMimeType(tt.video, tt.audio); got != tt.want {
			t.Errorf("RecordingMimeType(%v, %v) = %q, want %q", tt.video, tt.audio, got, tt.want)
		}
	}
}

func TestIsVP8Keyframe(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{
			name:     "valid keyframe",
			data:     []byte{0x00, 0x00, 0x00, 0x9D, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00},
			expected: true,
		},
		{
			name:     "not a keyframe (bit 0 set)",
			data:     []byte{0x01, 0x00, 0x00, 0x9D, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00},
			expected: false,
		},
		{
			name:     "wrong start code",
			data:     []byte{0x00, 0x00, 0x00, 0x9E, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00},
			expected: false,
		},
		{
			name:     "too short",
			data:     []byte{0x00, 0x00, 0x00, 0x9D, 0x01},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isVP8Keyframe(tt.data)
			if got != tt.expected {
				t.Errorf("isVP8Keyframe() = %v, want %v", got, tt.expected)
			}
		})
	}
}
