package reaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
)

// Uploader is the external upload pipeline. Publish calls BeginUpload,
// PutBytes and Finalize in that order and never retries.
type Uploader interface {
	BeginUpload(ctx context.Context, sessionID, fileName, mimeType string) (storagePath string, err error)
	PutBytes(ctx context.Context, storagePath string, data []byte) error
	Finalize(ctx context.Context, sessionID, storagePath, thumbnailURL string) error
}

// PublishRequest describes a finished recording to upload.
type PublishRequest struct {
	SessionID string // Generated when empty
	FileName  string // Derived from the session ID when empty
	Recording RecordingResult
	Thumbnail []byte // Optional JPEG
}

// PublishResult reports where the recording was stored.
type PublishResult struct {
	SessionID     string
	StoragePath   string
	ThumbnailPath string // Empty when no thumbnail was uploaded
}

const thumbnailMimeType = "image/jpeg"

// Publish uploads a recording and its optional thumbnail through up. A failed
// thumbnail upload is logged and the recording is finalized without it.
// Every other failure wraps ErrUploadFailed.
func Publish(ctx context.Context, up Uploader, req PublishRequest) (PublishResult, error) {
	if len(req.Recording.Output) == 0 {
		return PublishResult{}, fmt.Errorf("%w: empty recording", ErrUploadFailed)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.FileName == "" {
		req.FileName = RecordingFileName(req.SessionID, req.Recording.StartedAt)
	}
	mimeType := req.Recording.MimeType
	if mimeType == "" {
		mimeType = WebMMimeType
	}

	res := PublishResult{SessionID: req.SessionID}
	path, err := up.BeginUpload(ctx, req.SessionID, req.FileName, mimeType)
	if err != nil {
		return res, fmt.Errorf("%w: begin upload: %w", ErrUploadFailed, err)
	}
	res.StoragePath = path
	if err := up.PutBytes(ctx, path, req.Recording.Output); err != nil {
		return res, fmt.Errorf("%w: uploading %s: %w", ErrUploadFailed, path, err)
	}

	if len(req.Thumbnail) > 0 {
		thumbPath, err := uploadThumbnail(ctx, up, req)
		if err != nil {
			logger.Warnf(ctx, "recording %s is published without a thumbnail: %v", req.SessionID, err)
		} else {
			res.ThumbnailPath = thumbPath
		}
	}

	if err := up.Finalize(ctx, req.SessionID, path, res.ThumbnailPath); err != nil {
		return res, fmt.Errorf("%w: finalize: %w", ErrUploadFailed, err)
	}
	logger.Debugf(ctx, "published recording %s to %s", req.SessionID, path)
	return res, nil
}

func uploadThumbnail(ctx context.Context, up Uploader, req PublishRequest) (string, error) {
	path, err := up.BeginUpload(ctx, req.SessionID, thumbnailFileName(req.FileName), thumbnailMimeType)
	if err != nil {
		return "", err
	}
	if err := up.PutBytes(ctx, path, req.Thumbnail); err != nil {
		return "", err
	}
	return path, nil
}

// RecordingFileName returns the default file name of a recording.
func RecordingFileName(sessionID string, startedAt time.Time) string {
	if startedAt.IsZero() {
		return fmt.Sprintf("reaction-%s.webm", sessionID)
	}
	return fmt.Sprintf("reaction-%s-%s.webm", startedAt.UTC().Format("20060102T150405Z"), sessionID)
}

func thumbnailFileName(recording string) string {
	return strings.TrimSuffix(recording, ".webm") + "-thumbnail.jpg"
}
