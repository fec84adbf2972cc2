package reaction

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
)

type webmFile struct {
	Header  webm.EBMLHeader `ebml:"EBML"`
	Segment webm.Segment    `ebml:"Segment"`
}

const webmTrackTypeVideo = 1

// demuxWebM reads the first video track of a WebM stream. Streams written
// live have no Duration element; the duration is then the end of the last
// frame.
func demuxWebM(r io.Reader) (*demuxedClip, error) {
	var f webmFile
	if err := ebml.Unmarshal(r, &f); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("parsing webm: %w", err)
	}

	var video *webm.TrackEntry
	for i := range f.Segment.Tracks.TrackEntry {
		if f.Segment.Tracks.TrackEntry[i].TrackType == webmTrackTypeVideo {
			video = &f.Segment.Tracks.TrackEntry[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("webm has no video track")
	}

	scale := time.Duration(f.Segment.Info.TimecodeScale)
	if scale == 0 {
		scale = time.Millisecond
	}

	clip := &demuxedClip{Codec: videoCodecFromMatroska(video.CodecID)}
	if video.Video != nil {
		clip.Width = int(video.Video.PixelWidth)
		clip.Height = int(video.Video.PixelHeight)
	}

	for _, cluster := range f.Segment.Cluster {
		for _, block := range cluster.SimpleBlock {
			if block.TrackNumber != video.TrackNumber || len(block.Data) == 0 {
				continue
			}
			ts := time.Duration(int64(cluster.Timecode)+int64(block.Timecode)) * scale
			clip.Frames = append(clip.Frames, demuxedFrame{
				Timestamp: ts,
				Keyframe:  block.Keyframe,
				Data:      block.Data[0],
			})
		}
	}
	sort.SliceStable(clip.Frames, func(i, j int) bool {
		return clip.Frames[i].Timestamp < clip.Frames[j].Timestamp
	})

	if d := f.Segment.Info.Duration; d > 0 {
		clip.Duration = time.Duration(d * float64(scale))
	} else {
		clip.Duration = framesEnd(clip.Frames, time.Duration(video.DefaultDuration))
	}
	return clip, nil
}

// framesEnd returns the end time of the last frame. The last frame lasts
// frameDuration, or the average frame interval when that is unknown.
func framesEnd(frames []demuxedFrame, frameDuration time.Duration) time.Duration {
	n := len(frames)
	if n == 0 {
		return 0
	}
	last := frames[n-1].Timestamp
	if frameDuration <= 0 && n > 1 {
		frameDuration = (last - frames[0].Timestamp) / time.Duration(n-1)
	}
	return last + frameDuration
}

func videoCodecFromMatroska(id string) VideoCodec {
	switch id {
	case VideoCodecVP8.MatroskaCodecID():
		return VideoCodecVP8
	case VideoCodecVP9.MatroskaCodecID():
		return VideoCodecVP9
	default:
		return VideoCodecUnknown
	}
}

// ProbeDuration returns the duration of a recorded WebM buffer.
func ProbeDuration(buf []byte) (time.Duration, error) {
	clip, err := demuxContainer(buf)
	if err != nil {
		return 0, err
	}
	return clip.Duration, nil
}
