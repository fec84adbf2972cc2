package reaction

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("opening camera: %w", ErrPermissionDenied), "permissions"},
		{ErrNoDeviceFound, "No camera"},
		{ErrDeviceUnavailable, "other apps"},
		{ErrNoActiveStream, "Select a camera"},
		{fmt.Errorf("%w: encoding video: boom", ErrEncoderFailure), "encoding"},
		{ErrUploadFailed, "uploaded"},
		{ErrClipLoadFailed, ""},
		{errors.New("unrelated"), ""},
	}

	for _, tt := range tests {
		got := UserMessage(tt.err)
		if tt.want == "" {
			if got != "" {
				t.Errorf("UserMessage(%v) = %q, want empty", tt.err, got)
			}
			continue
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("UserMessage(%v) = %q, want it to mention %q", tt.err, got, tt.want)
		}
	}
}
