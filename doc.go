// Package reaction records reaction videos: a source clip and a live webcam
// composited onto one surface, recorded together with the microphone into a
// WebM buffer.
//
// Key pieces include:
//   - DeviceManager and DeviceProvider for camera/microphone enumeration and
//     capture (pion/mediadevices, or synthetic test-pattern devices)
//   - SourcePlayback for the source clip (WebM or IVF, VP8)
//   - ComputeLayout, a pure function placing both inputs side by side or
//     picture-in-picture
//   - Compositor and FrameScheduler drawing the composite on a gg surface
//   - Recorder, a one-shot Idle → Recording → Stopped state machine
//   - ThumbnailExtractor and Publish for the post-recording steps
//
// RecorderSession wires all of them together and is the usual entry point.
//
// # Architecture
//
//	Camera  -> PreviewHandle  \
//	                           Compositor -> CaptureStream -> VP8 encoder  \
//	Clip    -> SourcePlayback /                                              WebMMuxer -> ChunkedBuffer
//	Mic     -> Opus encoder  -----------------------------------------------/
//
// Readiness flows as events: SourcePlayback and PreviewHandle move through
// NotReady → MetadataLoaded → CanPlay and the compositor subscribes to them.
//
// # Logging
//
// Components log through the go-belt logger carried by the context passed
// to them.
//
// # Build Tags
//
// VP8 and Opus encoding use the cgo codecs of pion/mediadevices. Without cgo
// NewDefaultEncoderFactory returns encoders failing with
// ErrCodecNotSupported; inject an EncoderFactory instead.
package reaction
