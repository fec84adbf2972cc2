package reaction

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// PreviewHandle is the live preview of the camera track: it keeps the most
// recent webcam frame and reports readiness like a media element bound to
// the track.
type PreviewHandle struct {
	ready readyNotifier

	mu     sync.RWMutex
	track  VideoTrack
	frame  *VideoFrame
	width  int
	height int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPreviewHandle creates a detached preview handle.
func NewPreviewHandle() *PreviewHandle {
	return &PreviewHandle{}
}

// Attach binds the handle to a video track, detaching any previous one.
func (p *PreviewHandle) Attach(ctx context.Context, track VideoTrack) {
	p.Detach()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.track = track
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	logger.Debugf(ctx, "preview attached to track %s (%s)", track.ID(), track.Label())
	go p.pump(ctx, track, done)
}

// Detach unbinds the current track and waits for the reader to exit.
// The track itself is not stopped; its owner does that.
func (p *PreviewHandle) Detach() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.track = nil
	p.cancel = nil
	p.done = nil
	p.frame = nil
	p.width, p.height = 0, 0
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	p.ready.set(ReadyStateNotReady)
}

func (p *PreviewHandle) pump(ctx context.Context, track VideoTrack, done chan struct{}) {
	defer close(done)
	for {
		frame, err := track.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				logger.Debugf(ctx, "preview track %s stopped: %v", track.ID(), err)
			}
			return
		}
		if frame == nil {
			continue
		}

		p.mu.Lock()
		if p.track != track {
			p.mu.Unlock()
			return
		}
		first := p.frame == nil
		p.frame = frame.Clone()
		p.width, p.height = frame.Width, frame.Height
		p.mu.Unlock()

		if first {
			p.ready.set(ReadyStateMetadataLoaded)
			p.ready.set(ReadyStateCanPlay)
		}
	}
}

// Track returns the attached track, or nil.
func (p *PreviewHandle) Track() VideoTrack {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.track
}

// ReadyState returns the current readiness.
func (p *PreviewHandle) ReadyState() ReadyState {
	return p.ready.get()
}

// OnReadyStateChange registers a readiness listener.
func (p *PreviewHandle) OnReadyStateChange(l ReadyStateListener) {
	p.ready.subscribe(l)
}

// Dimensions returns the size of the live video, zero until the first frame.
func (p *PreviewHandle) Dimensions() (int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.width, p.height
}

// CurrentImage returns the latest webcam frame, or nil.
func (p *PreviewHandle) CurrentImage() image.Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.frame == nil {
		return nil
	}
	return p.frame.Image()
}
