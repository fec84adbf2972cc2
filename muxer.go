package reaction

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/hashicorp/go-multierror"
)

// =============================================================================
// Chunked output
// =============================================================================

// ChunkedBuffer collects the muxer output in memory. Bytes written since the
// last Flush form the pending chunk; Flush appends it to the ordered chunk
// sequence.
type ChunkedBuffer struct {
	mu      sync.Mutex
	pending bytes.Buffer
	chunks  [][]byte
	size    int
	closed  bool
	done    chan struct{}
}

// NewChunkedBuffer creates an empty buffer.
func NewChunkedBuffer() *ChunkedBuffer {
	return &ChunkedBuffer{done: make(chan struct{})}
}

var _ io.WriteCloser = (*ChunkedBuffer)(nil)

func (b *ChunkedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	return b.pending.Write(p)
}

// Flush cuts the pending bytes into a new chunk. It reports whether a chunk
// was added.
func (b *ChunkedBuffer) Flush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *ChunkedBuffer) flushLocked() bool {
	if b.pending.Len() == 0 {
		return false
	}
	chunk := make([]byte, b.pending.Len())
	copy(chunk, b.pending.Bytes())
	b.pending.Reset()
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	return true
}

// Chunks returns the number of flushed chunks.
func (b *ChunkedBuffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Bytes flushes and returns the concatenation of all chunks in order.
func (b *ChunkedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Close marks the buffer complete. Later writes fail.
func (b *ChunkedBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

// Done is closed once the muxer has written its last byte.
func (b *ChunkedBuffer) Done() <-chan struct{} {
	return b.done
}

// =============================================================================
// WebM muxer
// =============================================================================

const (
	webmVideoTrackNumber = 1
	webmAudioTrackNumber = 2
	webmTrackTypeAudio   = 2
)

// WebMMuxer writes VP8 video and optional Opus audio into a WebM stream.
// Timestamps are relative to the recording start; the container uses a
// millisecond timecode scale.
type WebMMuxer struct {
	mu     sync.Mutex
	video  webm.BlockWriteCloser
	audio  webm.BlockWriteCloser
	fatal  error
	closed bool
}

// NewWebMMuxer starts a WebM stream on sink. Audio is omitted when audio is
// nil. The sink is closed when the muxer is closed.
func NewWebMMuxer(sink io.WriteCloser, width, height, fps int, audio *AudioEncoderConfig) (*WebMMuxer, error) {
	if fps <= 0 {
		fps = DefaultConfig().FPS
	}
	tracks := []webm.TrackEntry{{
		Name:            "Video",
		TrackNumber:     webmVideoTrackNumber,
		TrackUID:        webmVideoTrackNumber,
		CodecID:         VideoCodecVP8.MatroskaCodecID(),
		TrackType:       webmTrackTypeVideo,
		DefaultDuration: uint64(time.Second / time.Duration(fps)),
		Video: &webm.Video{
			PixelWidth:  uint64(width),
			PixelHeight: uint64(height),
		},
	}}
	if audio != nil {
		a := audio.withDefaults()
		tracks = append(tracks, webm.TrackEntry{
			Name:            "Audio",
			TrackNumber:     webmAudioTrackNumber,
			TrackUID:        webmAudioTrackNumber,
			CodecID:         a.Codec.MatroskaCodecID(),
			TrackType:       webmTrackTypeAudio,
			DefaultDuration: uint64(time.Duration(a.FrameSize) * time.Millisecond),
			Audio: &webm.Audio{
				SamplingFrequency: float64(a.SampleRate),
				Channels:          uint64(a.Channels),
			},
		})
	}

	m := &WebMMuxer{}
	writers, err := webm.NewSimpleBlockWriter(sink, tracks, mkvcore.WithOnFatalHandler(func(err error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.fatal == nil {
			m.fatal = err
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("creating webm writer: %w", err)
	}
	m.video = writers[0]
	if len(writers) > 1 {
		m.audio = writers[1]
	}
	return m, nil
}

// WriteVideo appends an encoded VP8 frame.
func (m *WebMMuxer) WriteVideo(f *EncodedFrame) error {
	if f == nil || len(f.Data) == 0 {
		return nil
	}
	return m.write(m.video, f.IsKeyframe(), f.Timestamp, f.Data)
}

// WriteAudio appends an encoded Opus packet.
func (m *WebMMuxer) WriteAudio(p *EncodedAudio) error {
	if p == nil || len(p.Data) == 0 {
		return nil
	}
	if m.audio == nil {
		return errors.New("webm muxer has no audio track")
	}
	return m.write(m.audio, true, p.Timestamp, p.Data)
}

func (m *WebMMuxer) write(w webm.BlockWriteCloser, keyframe bool, ts time.Duration, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.fatal != nil {
		return m.fatal
	}
	if _, err := w.Write(keyframe, ts.Milliseconds(), data); err != nil {
		return fmt.Errorf("writing block at %v: %w", ts, err)
	}
	return nil
}

// Err returns the first fatal error reported by the writer.
func (m *WebMMuxer) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// Close finishes every track. The sink is closed after the last track.
func (m *WebMMuxer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	var result *multierror.Error
	if err := m.video.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing video track: %w", err))
	}
	if m.audio != nil {
		if err := m.audio.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing audio track: %w", err))
		}
	}
	return result.ErrorOrNil()
}
