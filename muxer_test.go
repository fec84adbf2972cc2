package reaction

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrameInterval = 33 * time.Millisecond

// buildTestWebM muxes n fake frames of width x height, one keyframe every
// keyEvery frames, spaced testFrameInterval apart.
func buildTestWebM(t *testing.T, width, height, n, keyEvery int) []byte {
	t.Helper()
	sink := NewChunkedBuffer()
	m, err := NewWebMMuxer(sink, width, height, 30, nil)
	require.NoError(t, err)
	for i := range n {
		key := i%keyEvery == 0
		f := &EncodedFrame{
			Data:      fakeVideoPayload(width, height, key, uint32(i)),
			FrameType: FrameTypeDelta,
			Timestamp: time.Duration(i) * testFrameInterval,
		}
		if key {
			f.FrameType = FrameTypeKey
		}
		require.NoError(t, m.WriteVideo(f))
	}
	require.NoError(t, m.Close())
	<-sink.Done()
	return sink.Bytes()
}

func TestChunkedBuffer(t *testing.T) {
	b := NewChunkedBuffer()

	assert.False(t, b.Flush(), "nothing to flush")
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.True(t, b.Flush())
	_, err = b.Write([]byte("de"))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Chunks())

	require.NoError(t, b.Close())
	select {
	case <-b.Done():
	default:
		t.Fatal("Done not closed")
	}
	assert.Equal(t, []byte("abcde"), b.Bytes())
	assert.Equal(t, 2, b.Chunks(), "Bytes flushes the tail")

	_, err = b.Write([]byte("f"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestWebMMuxer_VideoRoundTrip(t *testing.T) {
	data := buildTestWebM(t, 320, 240, 45, 15)
	require.True(t, bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}), "EBML magic")

	clip, err := demuxContainer(data)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecVP8, clip.Codec)
	assert.Equal(t, 320, clip.Width)
	assert.Equal(t, 240, clip.Height)
	require.Len(t, clip.Frames, 45)

	for i, f := range clip.Frames {
		assert.Equal(t, time.Duration(i)*testFrameInterval, f.Timestamp, "frame %d", i)
		assert.Equal(t, i%15 == 0, f.Keyframe, "frame %d", i)
		assert.Equal(t, fakeVideoPayload(320, 240, i%15 == 0, uint32(i)), f.Data)
	}

	// The last frame lasts one frame at 30 fps.
	want := 44*testFrameInterval + time.Second/30
	d, err := ProbeDuration(data)
	require.NoError(t, err)
	assert.Equal(t, want, d)
}

func TestWebMMuxer_WithAudio(t *testing.T) {
	sink := NewChunkedBuffer()
	audio := DefaultAudioEncoderConfig()
	m, err := NewWebMMuxer(sink, 64, 48, 30, &audio)
	require.NoError(t, err)

	for i := range 10 {
		f := &EncodedFrame{
			Data:      fakeVideoPayload(64, 48, i == 0, uint32(i)),
			FrameType: FrameTypeDelta,
			Timestamp: time.Duration(i) * testFrameInterval,
		}
		if i == 0 {
			f.FrameType = FrameTypeKey
		}
		require.NoError(t, m.WriteVideo(f))
		require.NoError(t, m.WriteAudio(&EncodedAudio{
			Data:      []byte{0xfc, byte(i)},
			Timestamp: time.Duration(i) * 20 * time.Millisecond,
		}))
	}
	require.NoError(t, m.WriteVideo(nil), "nil frames are skipped")
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "Close is idempotent")

	clip, err := demuxContainer(sink.Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, clip.Frames)
	assert.LessOrEqual(t, len(clip.Frames), 10, "only video frames are demuxed")
	assert.True(t, clip.Frames[0].Keyframe)

	err = m.WriteVideo(&EncodedFrame{Data: []byte{1}})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestWebMMuxer_AudioWithoutTrack(t *testing.T) {
	m, err := NewWebMMuxer(NewChunkedBuffer(), 64, 48, 30, nil)
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, m.WriteAudio(&EncodedAudio{Data: []byte{1}}))
	assert.NoError(t, m.WriteAudio(&EncodedAudio{}), "empty packets are skipped")
}

func TestProbeDuration_Garbage(t *testing.T) {
	_, err := ProbeDuration([]byte("definitely not a container"))
	assert.ErrorIs(t, err, ErrCodecNotSupported)
}
