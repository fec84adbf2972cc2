package reaction

import (
	"errors"
)

// Error taxonomy. Errors returned by this package wrap one of these
// sentinels; test with errors.Is.
var (
	// Terminal for the current device session; surface to the user.
	ErrPermissionDenied  = errors.New("capture permission denied")
	ErrNoDeviceFound     = errors.New("no capture device found")
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// Recoverable: playback degrades to the placeholder clip.
	ErrClipLoadFailed = errors.New("source clip load failed")

	ErrNoActiveStream         = errors.New("no active stream session")
	ErrEncoderFailure         = errors.New("encoder failure")
	ErrInvalidStateTransition = errors.New("invalid recording state transition")
	ErrRecordingActive        = errors.New("recording in progress")

	// Non-fatal: the recording proceeds without a thumbnail.
	ErrThumbnailExtractionFailed = errors.New("thumbnail extraction failed")

	ErrUploadFailed = errors.New("upload failed")

	ErrNotSupported      = errors.New("operation not supported")
	ErrCodecNotSupported = errors.New("codec not supported")
	ErrNotKeyframe       = errors.New("frame is not a keyframe")
	ErrSessionClosed     = errors.New("session closed")
)

// UserMessage returns actionable text for errors that must be shown to the
// user, or an empty string when err needs no user-facing explanation.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Camera or microphone access was denied. Check camera permissions and try again."
	case errors.Is(err, ErrNoDeviceFound):
		return "No camera or microphone was found. Connect a device and try again."
	case errors.Is(err, ErrDeviceUnavailable):
		return "The selected camera or microphone could not be started. Close other apps using it or pick another device."
	case errors.Is(err, ErrNoActiveStream):
		return "Select a camera and microphone before recording."
	case errors.Is(err, ErrEncoderFailure):
		return "Recording failed while encoding. Please record again."
	case errors.Is(err, ErrUploadFailed):
		return "The recording could not be uploaded."
	default:
		return ""
	}
}
