package reaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
)

// RecordingState is the state of a Recorder.
type RecordingState int32

const (
	RecordingStateIdle RecordingState = iota
	RecordingStateRecording
	RecordingStateStopped // Terminal
)

func (s RecordingState) String() string {
	switch s {
	case RecordingStateIdle:
		return "idle"
	case RecordingStateRecording:
		return "recording"
	case RecordingStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RecordingResult is the finalized output of a recording.
type RecordingResult struct {
	Output    []byte // Complete WebM buffer
	MimeType  string
	Duration  time.Duration
	Width     int
	Height    int
	StartedAt time.Time
	Chunks    int // Number of flushed chunks concatenated into Output
}

// StreamSource provides the active capture session.
type StreamSource interface {
	Session() *StreamSession
}

// RecorderDeps are the collaborators of a Recorder.
type RecorderDeps struct {
	Streams    StreamSource
	Playback   *SourcePlayback
	Compositor *Compositor
	Scheduler  *FrameScheduler
	Encoders   EncoderFactory
	Clock      clock.Clock

	OnComplete func(RecordingResult) // Called once the output is final
	OnError    func(error)           // Called when an encoder failure aborts the recording
	OnElapsed  func(time.Duration)   // Called every elapsed interval while recording
}

// Recorder records the composited surface and the microphone into a WebM
// buffer. It moves Idle → Recording → Stopped and cannot be restarted once
// stopped.
type Recorder struct {
	config Config
	deps   RecorderDeps

	state     atomic.Int32
	capturing atomic.Bool
	elapsed   atomic.Int64

	mu     sync.Mutex
	run    *recordingRun
	result *RecordingResult
	closed bool
}

// recordingRun holds the resources of one Recording state.
type recordingRun struct {
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	width     int
	height    int
	mimeType  string

	sink    *ChunkedBuffer
	muxer   *WebMMuxer
	video   VideoEncoder
	audio   AudioEncoder
	capture *CaptureStream

	pumps      sync.WaitGroup
	timers     sync.WaitGroup
	stopTimers context.CancelFunc

	failOnce sync.Once
	failure  atomic.Pointer[error]
}

func (run *recordingRun) err() error {
	if p := run.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// NewRecorder creates an idle recorder.
func NewRecorder(config Config, deps RecorderDeps) *Recorder {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Encoders == nil {
		deps.Encoders = NewDefaultEncoderFactory()
	}
	return &Recorder{
		config: config.withDefaults(),
		deps:   deps,
	}
}

// State returns the current state.
func (r *Recorder) State() RecordingState {
	return RecordingState(r.state.Load())
}

// Capturing reports whether frames are being recorded. It never blocks, so
// it is safe to use from the frame loop.
func (r *Recorder) Capturing() bool {
	return r.capturing.Load()
}

// Elapsed returns the recording time shown to the user: whole elapsed
// intervals while recording, the final duration once stopped.
func (r *Recorder) Elapsed() time.Duration {
	return time.Duration(r.elapsed.Load())
}

// Result returns the output of a stopped recorder, or nil.
func (r *Recorder) Result() *RecordingResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Start begins recording the composited surface and the microphone of the
// active stream session.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrSessionClosed
	}
	if state := r.State(); state != RecordingStateIdle {
		return fmt.Errorf("start from %s: %w", state, ErrInvalidStateTransition)
	}
	session := r.deps.Streams.Session()
	if !session.Active() {
		return ErrNoActiveStream
	}

	clip := r.deps.Playback.Clip()
	canvas := CanvasFor(clip.NaturalWidth, clip.NaturalHeight, r.config.DefaultCanvas)
	if err := r.deps.Compositor.Resize(canvas); err != nil {
		return err
	}
	canvas = r.deps.Compositor.Canvas()

	videoConfig := VideoEncoderConfig{
		Codec:            VideoCodecVP8,
		Width:            canvas.Width,
		Height:           canvas.Height,
		FPS:              r.config.FPS,
		BitrateBps:       r.config.TargetBitrate(canvas.Width, canvas.Height),
		KeyframeInterval: r.config.KeyframeInterval,
	}
	video, err := r.deps.Encoders.NewVideoEncoder(videoConfig)
	if err != nil {
		return fmt.Errorf("%w: creating video encoder: %w", ErrEncoderFailure, err)
	}

	var (
		audio       AudioEncoder
		audioConfig *AudioEncoderConfig
		audioCodec  = AudioCodecUnknown
	)
	if track := session.AudioTrack(); track != nil {
		cfg := r.config.Audio.withDefaults()
		audio, err = r.deps.Encoders.NewAudioEncoder(track, cfg)
		if err != nil {
			video.Close()
			return fmt.Errorf("%w: creating audio encoder: %w", ErrEncoderFailure, err)
		}
		audioConfig = &cfg
		audioCodec = cfg.Codec
	}

	sink := NewChunkedBuffer()
	muxer, err := NewWebMMuxer(sink, canvas.Width, canvas.Height, r.config.FPS, audioConfig)
	if err != nil {
		video.Close()
		if audio != nil {
			audio.Close()
		}
		return fmt.Errorf("%w: %w", ErrEncoderFailure, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &recordingRun{
		ctx:       runCtx,
		cancel:    cancel,
		startedAt: r.deps.Clock.Now(),
		width:     canvas.Width,
		height:    canvas.Height,
		mimeType:  RecordingMimeType(VideoCodecVP8, audioCodec),
		sink:      sink,
		muxer:     muxer,
		video:     video,
		audio:     audio,
		capture:   r.deps.Compositor.CaptureStream(r.config.FPS),
	}
	r.run = run
	r.result = nil
	r.elapsed.Store(0)
	r.state.Store(int32(RecordingStateRecording))
	r.capturing.Store(true)

	run.pumps.Add(1)
	go r.pumpVideo(run)
	if audio != nil {
		run.pumps.Add(1)
		go r.pumpAudio(run)
	}

	timersCtx, stopTimers := context.WithCancel(runCtx)
	run.stopTimers = stopTimers
	run.timers.Add(2)
	go r.flushLoop(timersCtx, run)
	go r.elapsedLoop(timersCtx, run)

	logger.Debugf(ctx, "recording %dx%d at %d bps (%s)", canvas.Width, canvas.Height, videoConfig.BitrateBps, run.mimeType)
	r.deps.Scheduler.Start(context.WithoutCancel(ctx))
	return nil
}

func (r *Recorder) pumpVideo(run *recordingRun) {
	defer run.pumps.Done()
	for {
		frame, err := run.capture.ReadFrame(run.ctx)
		if err != nil {
			return
		}
		encoded, err := run.video.Encode(frame)
		if err != nil {
			r.fail(run, fmt.Errorf("%w: encoding video: %w", ErrEncoderFailure, err))
			return
		}
		if encoded == nil {
			continue
		}
		if err := run.muxer.WriteVideo(encoded); err != nil {
			r.fail(run, fmt.Errorf("%w: muxing video: %w", ErrEncoderFailure, err))
			return
		}
	}
}

func (r *Recorder) pumpAudio(run *recordingRun) {
	defer run.pumps.Done()
	for {
		packet, err := run.audio.ReadPacket(run.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || run.ctx.Err() != nil {
				return
			}
			r.fail(run, fmt.Errorf("%w: encoding audio: %w", ErrEncoderFailure, err))
			return
		}
		if err := run.muxer.WriteAudio(packet); err != nil {
			r.fail(run, fmt.Errorf("%w: muxing audio: %w", ErrEncoderFailure, err))
			return
		}
	}
}

func (r *Recorder) flushLoop(ctx context.Context, run *recordingRun) {
	defer run.timers.Done()
	ticker := r.deps.Clock.Ticker(r.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if run.sink.Flush() {
				logger.Tracef(ctx, "flushed recording chunk %d", run.sink.Chunks())
			}
		}
	}
}

func (r *Recorder) elapsedLoop(ctx context.Context, run *recordingRun) {
	defer run.timers.Done()
	ticker := r.deps.Clock.Ticker(r.config.ElapsedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(run.startedAt).Truncate(r.config.ElapsedInterval)
			r.elapsed.Store(int64(elapsed))
			if r.deps.OnElapsed != nil {
				r.deps.OnElapsed(elapsed)
			}
		}
	}
}

// fail aborts run once. The abort runs asynchronously because fail is
// called from the pumps the teardown waits for.
func (r *Recorder) fail(run *recordingRun, err error) {
	run.failOnce.Do(func() {
		run.failure.Store(&err)
		go r.abort(run, err)
	})
}

func (r *Recorder) abort(run *recordingRun, cause error) {
	r.mu.Lock()
	if r.run != run {
		r.mu.Unlock()
		return
	}
	logger.Errorf(run.ctx, "aborting recording: %v", cause)
	if _, err := r.teardown(run.ctx, run); err != nil {
		logger.Debugf(run.ctx, "teardown after failure: %v", err)
	}
	r.run = nil
	r.elapsed.Store(0)
	r.state.Store(int32(RecordingStateIdle))
	r.mu.Unlock()

	r.deps.Scheduler.Kick(context.WithoutCancel(run.ctx))
	if r.deps.OnError != nil {
		r.deps.OnError(cause)
	}
}

// Stop finalizes the recording. It returns once the output is complete, the
// timers are cleared and the completion callback has run. Stop is a no-op
// unless the recorder is recording; it then returns the previous result.
func (r *Recorder) Stop(ctx context.Context) (*RecordingResult, error) {
	r.mu.Lock()
	run := r.run
	if r.State() != RecordingStateRecording || run == nil {
		result := r.result
		r.mu.Unlock()
		return result, nil
	}

	output, teardownErr := r.teardown(ctx, run)
	r.run = nil

	if err := run.err(); err != nil || teardownErr != nil {
		if err == nil {
			err = fmt.Errorf("%w: finalizing: %w", ErrEncoderFailure, teardownErr)
		}
		r.elapsed.Store(0)
		r.state.Store(int32(RecordingStateIdle))
		r.mu.Unlock()
		if r.deps.OnError != nil {
			r.deps.OnError(err)
		}
		return nil, err
	}

	duration, err := ProbeDuration(output)
	if err != nil || duration <= 0 {
		duration = r.deps.Clock.Since(run.startedAt)
	}
	result := &RecordingResult{
		Output:    output,
		MimeType:  run.mimeType,
		Duration:  duration,
		Width:     run.width,
		Height:    run.height,
		StartedAt: run.startedAt,
		Chunks:    run.sink.Chunks(),
	}
	r.result = result
	r.elapsed.Store(int64(duration))
	r.deps.Playback.SetPlaying(ctx, false)
	r.state.Store(int32(RecordingStateStopped))
	r.mu.Unlock()

	logger.Debugf(ctx, "recording finished: %v, %d bytes in %d chunks", duration, len(output), result.Chunks)
	if r.deps.OnComplete != nil {
		r.deps.OnComplete(*result)
	}
	return result, nil
}

// teardown stops capture, drains the encoders, closes the container and
// returns the concatenated output.
func (r *Recorder) teardown(ctx context.Context, run *recordingRun) ([]byte, error) {
	r.capturing.Store(false)
	r.deps.Scheduler.Stop()

	var result *multierror.Error
	run.capture.Close()
	if run.audio != nil {
		if err := run.audio.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing audio encoder: %w", err))
		}
	}
	run.pumps.Wait()

	run.stopTimers()
	run.timers.Wait()

	if err := run.video.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing video encoder: %w", err))
	}
	if err := run.muxer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	select {
	case <-run.sink.Done():
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("waiting for container: %w", ctx.Err()))
	}
	run.cancel()
	if err := run.muxer.Err(); err != nil {
		result = multierror.Append(result, err)
	}
	return run.sink.Bytes(), result.ErrorOrNil()
}

// Close discards an in-progress recording and releases its encoders.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	run := r.run
	if run == nil {
		return nil
	}
	_, err := r.teardown(ctx, run)
	r.run = nil
	r.elapsed.Store(0)
	r.state.Store(int32(RecordingStateIdle))
	logger.Debugf(ctx, "recording discarded")
	return err
}
