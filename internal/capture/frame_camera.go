package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Permission policies for FrameCamera.
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
	PermissionPrompt  = "prompt"
)

// FrameCamera is a camera fed with viewfinder frames by a remote client. The
// shutter keeps the most recent frame as a file under dir.
type FrameCamera struct {
	dir    string
	policy string

	mu    sync.RWMutex
	frame []byte
}

// NewFrameCamera creates a camera writing captures into dir. A "denied"
// policy refuses every permission request; anything else grants it.
func NewFrameCamera(dir, policy string) (*FrameCamera, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}
	return &FrameCamera{dir: dir, policy: policy}, nil
}

// Feed replaces the current viewfinder frame.
func (f *FrameCamera) Feed(frame []byte) {
	f.mu.Lock()
	f.frame = append([]byte(nil), frame...)
	f.mu.Unlock()
}

// RequestPermission answers from the configured policy.
func (f *FrameCamera) RequestPermission(ctx context.Context) (bool, error) {
	return f.policy != PermissionDenied, nil
}

// Ready reports whether a viewfinder frame has arrived.
func (f *FrameCamera) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.frame) > 0
}

// TakePicture writes the current frame to a new file named after facing.
func (f *FrameCamera) TakePicture(ctx context.Context, facing Facing) (Picture, error) {
	f.mu.RLock()
	frame := f.frame
	f.mu.RUnlock()
	if len(frame) == 0 {
		return Picture{}, errors.New("no viewfinder frame")
	}

	path := filepath.Join(f.dir, fmt.Sprintf("%s-%s.jpg", facing, uuid.NewString()))
	if err := os.WriteFile(path, frame, 0644); err != nil {
		return Picture{}, fmt.Errorf("write capture: %w", err)
	}
	return Picture{URI: "file://" + path, Data: frame}, nil
}

// Discard removes a capture written by TakePicture. URIs outside the capture
// directory are refused; a file that is already gone is not an error.
func (f *FrameCamera) Discard(uri string) error {
	path, ok := strings.CutPrefix(uri, "file://")
	if !ok || filepath.Dir(filepath.Clean(path)) != filepath.Clean(f.dir) {
		return fmt.Errorf("not a capture: %s", uri)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove capture: %w", err)
	}
	return nil
}
