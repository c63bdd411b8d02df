package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"testing"
)

type fakeCamera struct {
	grant   bool
	ready   bool
	takeErr error
	taken   int
}

func (f *fakeCamera) RequestPermission(ctx context.Context) (bool, error) { return f.grant, nil }
func (f *fakeCamera) Ready() bool                                         { return f.ready }

func (f *fakeCamera) TakePicture(ctx context.Context, facing Facing) (Picture, error) {
	f.taken++
	if f.takeErr != nil {
		return Picture{}, f.takeErr
	}
	return Picture{URI: "file:///tmp/" + string(facing) + ".jpg", Data: []byte("jpeg-bytes")}, nil
}

func TestPermissionDeniedThenGranted(t *testing.T) {
	cam := &fakeCamera{}
	c := NewController(cam)
	ctx := context.Background()

	if c.Status().State != StateAwaitingPermission {
		t.Fatalf("initial state = %s, want awaiting_permission", c.Status().State)
	}

	if err := c.RequestPermission(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("RequestPermission = %v, want ErrPermissionDenied", err)
	}
	if c.Status().State != StatePermissionDenied {
		t.Errorf("state = %s, want permission_denied", c.Status().State)
	}

	cam.grant = true
	if err := c.RequestPermission(ctx); err != nil {
		t.Errorf("retry RequestPermission = %v, want nil", err)
	}
	if c.Status().State != StateReady {
		t.Errorf("state = %s, want ready", c.Status().State)
	}
}

func TestCaptureRequiresReadySession(t *testing.T) {
	cam := &fakeCamera{grant: true}
	c := NewController(cam)
	ctx := context.Background()

	// Before permission
	if _, ok := c.Capture(ctx); ok {
		t.Error("Capture before permission should fail silently")
	}

	c.RequestPermission(ctx)
	if _, ok := c.Capture(ctx); ok {
		t.Error("Capture with unready session should fail silently")
	}
	if cam.taken != 0 {
		t.Errorf("camera used %d times, want 0", cam.taken)
	}
	if c.Status().State != StateReady {
		t.Errorf("state = %s, want ready", c.Status().State)
	}
}

func TestCaptureCameraErrorStaysReady(t *testing.T) {
	cam := &fakeCamera{grant: true, ready: true, takeErr: errors.New("shutter jammed")}
	c := NewController(cam)
	c.RequestPermission(context.Background())

	if _, ok := c.Capture(context.Background()); ok {
		t.Error("Capture should report failure")
	}
	if c.Status().State != StateReady {
		t.Errorf("state = %s, want ready", c.Status().State)
	}
}

func TestCaptureRetakeConfirm(t *testing.T) {
	cam := &fakeCamera{grant: true, ready: true}
	c := NewController(cam)
	ctx := context.Background()
	c.RequestPermission(ctx)

	photo, ok := c.Capture(ctx)
	if !ok {
		t.Fatal("Capture failed")
	}
	if photo.URI != "file:///tmp/back.jpg" {
		t.Errorf("URI = %q, want back camera file", photo.URI)
	}
	if photo.EncodedPayload != base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")) {
		t.Errorf("EncodedPayload = %q, want base64 of image", photo.EncodedPayload)
	}
	if c.Status().State != StateCaptured {
		t.Errorf("state = %s, want captured", c.Status().State)
	}

	c.Retake()
	if st := c.Status(); st.State != StateReady || st.PhotoURI != "" {
		t.Errorf("after Retake status = %+v, want ready with no photo", st)
	}
	if _, err := c.Confirm(); !errors.Is(err, ErrNoPhoto) {
		t.Errorf("Confirm after retake = %v, want ErrNoPhoto", err)
	}

	c.Capture(ctx)
	confirmed, err := c.Confirm()
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.EncodedPayload == "" {
		t.Error("confirmed photo has no payload")
	}
	if c.Status().State != StateConfirmed {
		t.Errorf("state = %s, want confirmed", c.Status().State)
	}

	c.Reset()
	if c.Status().State != StateReady {
		t.Errorf("after Reset state = %s, want ready", c.Status().State)
	}
}

func TestToggleFacing(t *testing.T) {
	c := NewController(&fakeCamera{})
	if got := c.ToggleFacing(); got != FacingFront {
		t.Errorf("first toggle = %s, want front", got)
	}
	if got := c.ToggleFacing(); got != FacingBack {
		t.Errorf("second toggle = %s, want back", got)
	}
}

func TestFrameCamera(t *testing.T) {
	dir := t.TempDir()
	cam, err := NewFrameCamera(dir, PermissionPrompt)
	if err != nil {
		t.Fatalf("NewFrameCamera: %v", err)
	}
	ctx := context.Background()

	if granted, _ := cam.RequestPermission(ctx); !granted {
		t.Error("prompt policy should grant")
	}
	if cam.Ready() {
		t.Error("camera without frames should not be ready")
	}

	cam.Feed([]byte("frame-1"))
	if !cam.Ready() {
		t.Error("camera with a frame should be ready")
	}

	pic, err := cam.TakePicture(ctx, FacingFront)
	if err != nil {
		t.Fatalf("TakePicture: %v", err)
	}
	path := strings.TrimPrefix(pic.URI, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture file: %v", err)
	}
	if string(data) != "frame-1" {
		t.Errorf("capture file = %q, want frame-1", data)
	}

	denied, _ := NewFrameCamera(dir, PermissionDenied)
	if granted, _ := denied.RequestPermission(ctx); granted {
		t.Error("denied policy should refuse")
	}
}

func TestRetakeAndResetRemoveCaptureFile(t *testing.T) {
	dir := t.TempDir()
	cam, err := NewFrameCamera(dir, PermissionGranted)
	if err != nil {
		t.Fatalf("NewFrameCamera: %v", err)
	}
	cam.Feed([]byte("frame"))
	ctx := context.Background()
	c := NewController(cam)
	if err := c.RequestPermission(ctx); err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}

	first, ok := c.Capture(ctx)
	if !ok {
		t.Fatal("first capture failed")
	}
	c.Retake()
	if _, err := os.Stat(strings.TrimPrefix(first.URI, "file://")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file after Retake: %v, want not exist", err)
	}

	second, ok := c.Capture(ctx)
	if !ok {
		t.Fatal("second capture failed")
	}
	if _, err := c.Confirm(); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	c.Reset()
	if _, err := os.Stat(strings.TrimPrefix(second.URI, "file://")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file after Reset: %v, want not exist", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("capture dir holds %d files, want 0", len(entries))
	}
}

func TestFrameCameraDiscardStaysInDir(t *testing.T) {
	cam, err := NewFrameCamera(t.TempDir(), PermissionGranted)
	if err != nil {
		t.Fatalf("NewFrameCamera: %v", err)
	}
	outside := t.TempDir() + "/keep.jpg"
	if err := os.WriteFile(outside, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := cam.Discard("file://" + outside); err == nil {
		t.Error("Discard outside the capture dir succeeded")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("file outside the capture dir was touched: %v", err)
	}
	if err := cam.Discard("file://" + cam.dir + "/missing.jpg"); err != nil {
		t.Errorf("Discard of a missing capture = %v, want nil", err)
	}
}
