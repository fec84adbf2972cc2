package reaction

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// MediaDevicesProvider captures from real cameras and microphones through
// pion/mediadevices. Drivers must be registered by importing
// github.com/pion/mediadevices/pkg/driver/camera and .../microphone.
type MediaDevicesProvider struct{}

// NewMediaDevicesProvider creates a provider backed by the registered
// mediadevices drivers.
func NewMediaDevicesProvider() *MediaDevicesProvider {
	return &MediaDevicesProvider{}
}

var _ DeviceProvider = (*MediaDevicesProvider)(nil)

func (p *MediaDevicesProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	return listMediaDevices(mediadevices.VideoInput, DeviceKindVideoInput), nil
}

func (p *MediaDevicesProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return listMediaDevices(mediadevices.AudioInput, DeviceKindAudioInput), nil
}

func listMediaDevices(kind mediadevices.MediaDeviceType, as DeviceKind) []DeviceInfo {
	var result []DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != kind {
			continue
		}
		result = append(result, DeviceInfo{
			DeviceID: d.DeviceID,
			Kind:     as,
			Label:    d.Label,
		})
	}
	return result
}

func (p *MediaDevicesProvider) OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
			if constraints == nil {
				return
			}
			if constraints.Width > 0 {
				c.Width = prop.Int(constraints.Width)
			}
			if constraints.Height > 0 {
				c.Height = prop.Int(constraints.Height)
			}
			if constraints.FrameRate > 0 {
				c.FrameRate = prop.Float(float32(constraints.FrameRate))
			}
		},
	})
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, ErrNoDeviceFound
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return nil, fmt.Errorf("unexpected video track type %T", tracks[0])
	}

	settings := VideoTrackSettings{DeviceID: deviceID}
	if constraints != nil {
		settings.Width = constraints.Width
		settings.Height = constraints.Height
		settings.FrameRate = constraints.FrameRate
	}
	return &mediaDevicesVideoTrack{
		BaseTrack: NewBaseTrack(RTPCodecTypeVideo, deviceID, vt.ID()),
		track:     vt,
		reader:    vt.NewReader(false),
		settings:  settings,
		started:   time.Now(),
	}, nil
}

func (p *MediaDevicesProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
			if constraints == nil {
				return
			}
			if constraints.SampleRate > 0 {
				c.SampleRate = prop.Int(constraints.SampleRate)
			}
			if constraints.ChannelCount > 0 {
				c.ChannelCount = prop.Int(constraints.ChannelCount)
			}
		},
	})
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, ErrNoDeviceFound
	}
	at, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		tracks[0].Close()
		return nil, fmt.Errorf("unexpected audio track type %T", tracks[0])
	}

	requested := AudioTrackSettings{DeviceID: deviceID, SampleRate: 48000, ChannelCount: 1}
	if constraints != nil {
		if constraints.SampleRate > 0 {
			requested.SampleRate = constraints.SampleRate
		}
		if constraints.ChannelCount > 0 {
			requested.ChannelCount = constraints.ChannelCount
		}
	}
	return &mediaDevicesAudioTrack{
		BaseTrack: NewBaseTrack(RTPCodecTypeAudio, deviceID, at.ID()),
		track:     at,
		reader:    at.NewReader(false),
		settings:  negotiatedAudioSettings(ctx, at.NewReader(false), requested, audioNegotiationTimeout),
	}, nil
}

// audioNegotiationTimeout bounds the wait for the first microphone chunk.
const audioNegotiationTimeout = time.Second

// negotiatedAudioSettings reads one chunk from r and reports the format the
// driver actually delivers. Drivers may ignore the requested rate or channel
// count; requested is returned unchanged when no chunk arrives in time.
func negotiatedAudioSettings(ctx context.Context, r audio.Reader, requested AudioTrackSettings, timeout time.Duration) AudioTrackSettings {
	type result struct {
		info wave.ChunkInfo
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		chunk, release, err := r.Read()
		if err != nil {
			ch <- result{err: err}
			return
		}
		info := chunk.ChunkInfo()
		if release != nil {
			release()
		}
		ch <- result{info: info}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			logger.Debugf(ctx, "reading the first microphone chunk: %v", res.err)
			return requested
		}
		return withChunkInfo(requested, res.info)
	case <-timer.C:
		logger.Debugf(ctx, "no microphone chunk after %v, assuming %d Hz x %d", timeout, requested.SampleRate, requested.ChannelCount)
	case <-ctx.Done():
	}
	return requested
}

func withChunkInfo(s AudioTrackSettings, info wave.ChunkInfo) AudioTrackSettings {
	if info.SamplingRate > 0 {
		s.SampleRate = info.SamplingRate
	}
	if info.Channels > 0 {
		s.ChannelCount = info.Channels
	}
	return s
}

type mediaDevicesVideoTrack struct {
	*BaseTrack
	track    *mediadevices.VideoTrack
	reader   video.Reader
	settings VideoTrackSettings
	started  time.Time
}

func (t *mediaDevicesVideoTrack) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, release, err := t.reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()
	return FrameFromImage(img, time.Since(t.started)), nil
}

func (t *mediaDevicesVideoTrack) Settings() VideoTrackSettings {
	return t.settings
}

func (t *mediaDevicesVideoTrack) Close() error {
	t.SetState(TrackStateEnded)
	return t.track.Close()
}

type mediaDevicesAudioTrack struct {
	*BaseTrack
	track  *mediadevices.AudioTrack
	reader audio.Reader

	mu       sync.Mutex
	settings AudioTrackSettings
}

func (t *mediaDevicesAudioTrack) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunk, release, err := t.reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()
	t.mu.Lock()
	t.settings = withChunkInfo(t.settings, chunk.ChunkInfo())
	t.mu.Unlock()
	return samplesFromWave(chunk), nil
}

// AudioReader returns a fresh native reader of the microphone, used by the
// Opus encoder so that samples are not converted twice.
func (t *mediaDevicesAudioTrack) AudioReader() audio.Reader {
	return t.track.NewReader(false)
}

func (t *mediaDevicesAudioTrack) Settings() AudioTrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

func (t *mediaDevicesAudioTrack) Close() error {
	t.SetState(TrackStateEnded)
	return t.track.Close()
}

// samplesFromWave converts a mediadevices chunk into interleaved S16 samples.
// Layouts other than interleaved int16/float32 are delivered as silence.
func samplesFromWave(chunk wave.Audio) *AudioSamples {
	info := chunk.ChunkInfo()
	s := &AudioSamples{
		SampleRate:  info.SamplingRate,
		Channels:    info.Channels,
		SampleCount: info.Len,
		Format:      AudioFormatS16,
		Data:        make([]byte, info.Len*info.Channels*2),
	}
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		for i, v := range c.Data {
			if 2*i+1 >= len(s.Data) {
				break
			}
			binary.LittleEndian.PutUint16(s.Data[2*i:], uint16(v))
		}
	case *wave.Float32Interleaved:
		for i, v := range c.Data {
			if 2*i+1 >= len(s.Data) {
				break
			}
			binary.LittleEndian.PutUint16(s.Data[2*i:], uint16(floatToS16(v)))
		}
	}
	return s
}

func floatToS16(v float32) int16 {
	switch {
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	default:
		return int16(v * math.MaxInt16)
	}
}

// classifyCaptureError maps backend errors onto ErrPermissionDenied and
// ErrNoDeviceFound where they can be recognised.
func classifyCaptureError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDeviceFound) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist), strings.Contains(msg, "failed to find"), strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %v", ErrNoDeviceFound, err)
	}
	return err
}
