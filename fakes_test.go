package reaction

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// Fake video payload: flag (0 key, 1 delta), width, height, frame index.
const fakePayloadSize = 9

func fakeVideoPayload(width, height int, keyframe bool, index uint32) []byte {
	b := make([]byte, fakePayloadSize)
	if !keyframe {
		b[0] = 1
	}
	binary.LittleEndian.PutUint16(b[1:], uint16(width))
	binary.LittleEndian.PutUint16(b[3:], uint16(height))
	binary.LittleEndian.PutUint32(b[5:], index)
	return b
}

// fakeFrameDecoder decodes fake payloads into solid gray images.
type fakeFrameDecoder struct {
	err error
}

func (d fakeFrameDecoder) DecodeFrame(data []byte) (image.Image, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(data) < fakePayloadSize {
		return nil, fmt.Errorf("short payload: %d bytes", len(data))
	}
	if data[0] != 0 {
		return nil, ErrNotKeyframe
	}
	w := int(binary.LittleEndian.Uint16(data[1:]))
	h := int(binary.LittleEndian.Uint16(data[3:]))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	gray := color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, gray)
		}
	}
	return img, nil
}

// fakeEncoderFactory hands out fake encoders and remembers them.
type fakeEncoderFactory struct {
	videoErr    error
	audioErr    error
	failVideoAt int // Encode fails on this frame number when > 0

	mu    sync.Mutex
	video []*fakeVideoEncoder
	audio []*fakeAudioEncoder
}

func (f *fakeEncoderFactory) NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	if f.videoErr != nil {
		return nil, f.videoErr
	}
	e := &fakeVideoEncoder{config: config, failAt: f.failVideoAt}
	f.mu.Lock()
	f.video = append(f.video, e)
	f.mu.Unlock()
	return e, nil
}

func (f *fakeEncoderFactory) NewAudioEncoder(track AudioTrack, config AudioEncoderConfig) (AudioEncoder, error) {
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &fakeAudioEncoder{config: config, track: track, ctx: ctx, cancel: cancel}
	f.mu.Lock()
	f.audio = append(f.audio, e)
	f.mu.Unlock()
	return e, nil
}

func (f *fakeEncoderFactory) lastVideo() *fakeVideoEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.video) == 0 {
		return nil
	}
	return f.video[len(f.video)-1]
}

func (f *fakeEncoderFactory) lastAudio() *fakeAudioEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.audio) == 0 {
		return nil
	}
	return f.audio[len(f.audio)-1]
}

type fakeVideoEncoder struct {
	config VideoEncoderConfig
	failAt int

	mu     sync.Mutex
	frames int
	closed bool
}

func (e *fakeVideoEncoder) Encode(f *VideoFrame) (*EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, io.ErrClosedPipe
	}
	e.frames++
	if e.failAt > 0 && e.frames >= e.failAt {
		return nil, errors.New("encoder exploded")
	}
	if f.Width != e.config.Width || f.Height != e.config.Height {
		return nil, fmt.Errorf("frame %dx%d on a %dx%d encoder", f.Width, f.Height, e.config.Width, e.config.Height)
	}
	n := e.frames - 1
	key := e.config.KeyframeInterval <= 0 || n%e.config.KeyframeInterval == 0
	out := &EncodedFrame{
		Data:      fakeVideoPayload(f.Width, f.Height, key, uint32(n)),
		FrameType: FrameTypeDelta,
		Timestamp: time.Duration(f.Timestamp),
		Duration:  time.Duration(f.Duration),
	}
	if key {
		out.FrameType = FrameTypeKey
	}
	return out, nil
}

func (e *fakeVideoEncoder) Codec() VideoCodec { return VideoCodecVP8 }

func (e *fakeVideoEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeVideoEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *fakeVideoEncoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// fakeAudioEncoder turns every chunk of its track into one packet.
type fakeAudioEncoder struct {
	config AudioEncoderConfig
	track  AudioTrack
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	packets int
}

func (e *fakeAudioEncoder) ReadPacket(ctx context.Context) (*EncodedAudio, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	s, err := e.track.ReadSamples(ctx)
	if err != nil {
		if e.ctx.Err() != nil {
			return nil, io.EOF
		}
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	frame := time.Duration(e.config.FrameSize) * time.Millisecond
	p := &EncodedAudio{
		Data:      []byte{0xfc, byte(e.packets)},
		Timestamp: time.Duration(e.packets) * frame,
		Duration:  s.Duration(),
	}
	e.packets++
	return p, nil
}

func (e *fakeAudioEncoder) Codec() AudioCodec { return AudioCodecOpus }

func (e *fakeAudioEncoder) Close() error {
	e.cancel()
	return nil
}

func (e *fakeAudioEncoder) Closed() bool {
	return e.ctx.Err() != nil
}

// fakeClipDecoder serves solid clips and counts open handles.
type fakeClipDecoder struct {
	clips map[string]ClipMetadata
	err   error

	mu     sync.Mutex
	opened []string
	open   int
}

func (d *fakeClipDecoder) Open(ctx context.Context, playbackURL string) (ClipHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, playbackURL)
	if d.err != nil {
		return nil, d.err
	}
	md, ok := d.clips[playbackURL]
	if !ok {
		return nil, fmt.Errorf("%s: not found", playbackURL)
	}
	d.open++
	return &fakeClip{decoder: d, md: md, img: image.NewRGBA(image.Rect(0, 0, md.Width, md.Height))}, nil
}

func (d *fakeClipDecoder) OpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeClipDecoder) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

type fakeClip struct {
	decoder *fakeClipDecoder
	md      ClipMetadata
	img     image.Image
	once    sync.Once
}

func (c *fakeClip) Metadata() ClipMetadata                     { return c.md }
func (c *fakeClip) FrameAt(time.Duration) (image.Image, error) { return c.img, nil }

func (c *fakeClip) Close() error {
	c.once.Do(func() {
		c.decoder.mu.Lock()
		c.decoder.open--
		c.decoder.mu.Unlock()
	})
	return nil
}

// fakeUploader records the calls of the upload contract.
type fakeUploader struct {
	beginErr    error
	putErr      error
	putErrFor   string // Only fail PutBytes for paths with this suffix
	finalizeErr error

	mu        sync.Mutex
	calls     []string
	stored    map[string][]byte
	finalized []string // thumbnailURL per Finalize call
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{stored: map[string][]byte{}}
}

func (u *fakeUploader) BeginUpload(ctx context.Context, sessionID, fileName, mimeType string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, "begin:"+mimeType)
	if u.beginErr != nil {
		return "", u.beginErr
	}
	return sessionID + "/" + fileName, nil
}

func (u *fakeUploader) PutBytes(ctx context.Context, storagePath string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, "put:"+storagePath)
	if u.putErr != nil && strings.HasSuffix(storagePath, u.putErrFor) {
		return u.putErr
	}
	u.stored[storagePath] = append([]byte(nil), data...)
	return nil
}

func (u *fakeUploader) Finalize(ctx context.Context, sessionID, storagePath, thumbnailURL string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, "finalize:"+storagePath)
	u.finalized = append(u.finalized, thumbnailURL)
	return u.finalizeErr
}

func (u *fakeUploader) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

// testRig is a RecorderSession on synthetic devices and a mock clock.
type testRig struct {
	mock     *clock.Mock
	devices  *TestPatternProvider
	encoders *fakeEncoderFactory
	session  *RecorderSession

	mu        sync.Mutex
	completed []RecordingResult
	failures  []error
	warnings  []error
}

func newTestRig(t *testing.T, encoders *fakeEncoderFactory) *testRig {
	t.Helper()
	if encoders == nil {
		encoders = &fakeEncoderFactory{}
	}
	rig := &testRig{
		mock:     clock.NewMock(),
		encoders: encoders,
	}
	rig.devices = NewTestPatternProvider(TestPatternConfig{
		Width:  640,
		Height: 480,
		FPS:    30,
		Clock:  rig.mock,
	})
	rig.session = NewRecorderSession(RecorderSessionConfig{
		Devices: rig.devices,
		Resolver: ClipResolverFunc(func(ctx context.Context, clipID string) (ResolvedClip, error) {
			if clipID == "missing" {
				return ResolvedClip{}, errors.New("clip not found")
			}
			return ResolvedClip{PlaybackURL: PlaceholderClipURL}, nil
		}),
		Encoders:     encoders,
		FrameDecoder: fakeFrameDecoder{},
		Clock:        rig.mock,
		OnWarning: func(err error) {
			rig.mu.Lock()
			defer rig.mu.Unlock()
			rig.warnings = append(rig.warnings, err)
		},
		OnComplete: func(r RecordingResult) {
			rig.mu.Lock()
			defer rig.mu.Unlock()
			rig.completed = append(rig.completed, r)
		},
		OnError: func(err error) {
			rig.mu.Lock()
			defer rig.mu.Unlock()
			rig.failures = append(rig.failures, err)
		},
	})
	t.Cleanup(func() {
		_ = rig.session.Close(context.Background())
	})
	return rig
}

func (r *testRig) Completed() []RecordingResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordingResult(nil), r.completed...)
}

func (r *testRig) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failures...)
}

func (r *testRig) Warnings() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.warnings...)
}

// ready opens the synthetic devices, loads the placeholder clip and waits
// for both inputs to be ready.
func (r *testRig) ready(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := r.session.SelectDevices(ctx, "", "")
	require.NoError(t, err)
	_, err = r.session.LoadClip(ctx, "clip-1")
	require.NoError(t, err)
	r.waitWebcam(t)
}

func (r *testRig) waitWebcam(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.session.Preview().ReadyState() == ReadyStateCanPlay
	}, 2*time.Second, time.Millisecond)
}

// advance moves the mock clock frame by frame, waiting for the frame loop
// to render each frame.
func (r *testRig) advance(t *testing.T, frames int) {
	t.Helper()
	interval := time.Second / 30
	for range frames {
		want := r.session.Scheduler().Frames() + 1
		r.mock.Add(interval)
		require.Eventually(t, func() bool {
			return r.session.Scheduler().Frames() >= want
		}, 2*time.Second, 100*time.Microsecond)
	}
}
