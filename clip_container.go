package reaction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// PlaceholderClipURL plays a generated color-bars clip without touching the
// network.
const PlaceholderClipURL = "placeholder:color-bars"

// FrameDecoder decodes one compressed video frame.
type FrameDecoder interface {
	DecodeFrame(data []byte) (image.Image, error)
}

// demuxedFrame is one compressed video frame of a clip.
type demuxedFrame struct {
	Timestamp time.Duration
	Keyframe  bool
	Data      []byte
}

// demuxedClip is the video track of a container, fully read into memory.
type demuxedClip struct {
	Codec    VideoCodec
	Width    int
	Height   int
	Duration time.Duration
	Frames   []demuxedFrame // Ordered by timestamp
}

// keyframeAt returns the index of the last keyframe at or before t, or -1.
func (c *demuxedClip) keyframeAt(t time.Duration) int {
	i := sort.Search(len(c.Frames), func(i int) bool {
		return c.Frames[i].Timestamp > t
	})
	for i--; i >= 0; i-- {
		if c.Frames[i].Keyframe {
			return i
		}
	}
	return -1
}

// demuxContainer detects the container by signature.
func demuxContainer(data []byte) (*demuxedClip, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return demuxWebM(bytes.NewReader(data))
	case bytes.HasPrefix(data, []byte("DKIF")):
		return demuxIVF(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unrecognised container: %w", ErrCodecNotSupported)
	}
}

// ContainerClipDecoder opens WebM and IVF clips from http(s) URLs, file
// URLs or local paths, and the built-in placeholder clip.
type ContainerClipDecoder struct {
	client  *http.Client
	decoder FrameDecoder
}

// NewContainerClipDecoder creates a clip decoder. Nil arguments select
// http.DefaultClient and the VP8 keyframe decoder.
func NewContainerClipDecoder(client *http.Client, decoder FrameDecoder) *ContainerClipDecoder {
	if client == nil {
		client = http.DefaultClient
	}
	if decoder == nil {
		decoder = NewVP8KeyframeDecoder()
	}
	return &ContainerClipDecoder{client: client, decoder: decoder}
}

var _ ClipDecoder = (*ContainerClipDecoder)(nil)

func (d *ContainerClipDecoder) Open(ctx context.Context, playbackURL string) (ClipHandle, error) {
	if strings.HasPrefix(playbackURL, "placeholder:") {
		return newPlaceholderClip(1280, 720), nil
	}

	data, err := d.fetch(ctx, playbackURL)
	if err != nil {
		return nil, err
	}
	clip, err := demuxContainer(data)
	if err != nil {
		return nil, err
	}
	if clip.Codec != VideoCodecVP8 {
		return nil, fmt.Errorf("video codec %s: %w", clip.Codec, ErrCodecNotSupported)
	}
	if clip.keyframeAt(clip.Duration) < 0 {
		return nil, fmt.Errorf("clip has no keyframes")
	}
	return &containerClip{clip: clip, decoder: d.decoder, cached: -1}, nil
}

func (d *ContainerClipDecoder) fetch(ctx context.Context, playbackURL string) ([]byte, error) {
	u, err := url.Parse(playbackURL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return os.ReadFile(playbackURL)
	}
	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playbackURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", playbackURL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// containerClip serves frames of a demuxed clip. Only keyframes are
// decoded; the latest decode is cached.
type containerClip struct {
	clip    *demuxedClip
	decoder FrameDecoder

	mu     sync.Mutex
	cached int
	image  image.Image
}

func (c *containerClip) Metadata() ClipMetadata {
	return ClipMetadata{Width: c.clip.Width, Height: c.clip.Height, Duration: c.clip.Duration}
}

func (c *containerClip) FrameAt(t time.Duration) (image.Image, error) {
	idx := c.clip.keyframeAt(t)
	if idx < 0 {
		idx = c.clip.keyframeAt(c.clip.Duration)
	}
	if idx < 0 {
		return nil, ErrNotKeyframe
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx == c.cached {
		return c.image, nil
	}
	img, err := c.decoder.DecodeFrame(c.clip.Frames[idx].Data)
	if err != nil {
		return nil, err
	}
	c.cached, c.image = idx, img
	return img, nil
}

func (c *containerClip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = nil
	c.cached = -1
	return nil
}

// placeholderClip is an unbounded still of color bars.
type placeholderClip struct {
	image image.Image
}

func newPlaceholderClip(width, height int) *placeholderClip {
	cfg := DefaultTestPatternConfig()
	cfg.Pattern = PatternColorBars
	frame := NewI420Frame(width, height)
	drawTestPattern(frame, cfg, 0)
	return &placeholderClip{image: frame.Image()}
}

func (c *placeholderClip) Metadata() ClipMetadata {
	b := c.image.Bounds()
	return ClipMetadata{Width: b.Dx(), Height: b.Dy()}
}

func (c *placeholderClip) FrameAt(time.Duration) (image.Image, error) {
	return c.image, nil
}

func (c *placeholderClip) Close() error {
	return nil
}
