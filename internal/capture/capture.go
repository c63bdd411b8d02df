// Package capture owns camera permission and session state and produces the
// photo that starts a generation run.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// State is a step of the capture flow.
type State string

const (
	StateAwaitingPermission State = "awaiting_permission"
	StatePermissionDenied   State = "permission_denied"
	StateReady              State = "ready"
	StateCaptured           State = "captured"
	StateConfirmed          State = "confirmed"
)

// Facing selects the front or back camera.
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

var (
	// ErrPermissionDenied is returned when the user refuses camera access.
	// It is recoverable: RequestPermission may be called again.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoPhoto is returned by Confirm when nothing has been captured.
	ErrNoPhoto = errors.New("no captured photo to confirm")
)

// Picture is the raw output of the camera.
type Picture struct {
	URI  string
	Data []byte
}

// Camera is the device side of the capture flow.
type Camera interface {
	RequestPermission(ctx context.Context) (bool, error)
	// Ready reports whether the session can take a picture right now.
	Ready() bool
	TakePicture(ctx context.Context, facing Facing) (Picture, error)
}

// Discarder is implemented by cameras that keep captures around and can drop
// one once the photo is no longer needed.
type Discarder interface {
	Discard(uri string) error
}

// Photo is a captured image: a displayable URI plus the base64 payload sent
// to the description service.
type Photo struct {
	URI            string `json:"uri"`
	EncodedPayload string `json:"-"`
}

// Status is a snapshot for the consuming UI.
type Status struct {
	State       State  `json:"state"`
	Facing      Facing `json:"facing"`
	CameraReady bool   `json:"camera_ready"`
	PhotoURI    string `json:"photo_uri,omitempty"`
}

// Controller runs the capture state machine:
// AwaitingPermission -> PermissionDenied | Ready -> Captured -> Ready | Confirmed.
type Controller struct {
	camera Camera

	mu     sync.Mutex
	state  State
	facing Facing
	photo  *Photo
}

// NewController starts the flow in AwaitingPermission with the back camera.
func NewController(camera Camera) *Controller {
	return &Controller{
		camera: camera,
		state:  StateAwaitingPermission,
		facing: FacingBack,
	}
}

// RequestPermission prompts for camera access. It may be retried after a
// denial; once granted further calls are no-ops.
func (c *Controller) RequestPermission(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingPermission && c.state != StatePermissionDenied {
		return nil
	}

	granted, err := c.camera.RequestPermission(ctx)
	if err != nil {
		c.state = StatePermissionDenied
		logrus.WithError(err).Warn("Camera permission request failed")
		return errors.Join(ErrPermissionDenied, err)
	}
	if !granted {
		c.state = StatePermissionDenied
		logrus.Info("Camera permission denied")
		return ErrPermissionDenied
	}

	c.state = StateReady
	logrus.Info("Camera permission granted")
	return nil
}

// Capture takes a picture. It only works in Ready with a ready camera
// session; otherwise, or when the camera fails, it logs and returns false
// without leaving Ready.
func (c *Controller) Capture(ctx context.Context) (*Photo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		logrus.WithField("state", c.state).Warn("Capture ignored: camera not in ready state")
		return nil, false
	}
	if !c.camera.Ready() {
		logrus.Warn("Capture ignored: camera session not ready")
		return nil, false
	}

	pic, err := c.camera.TakePicture(ctx, c.facing)
	if err != nil {
		logrus.WithError(err).Warn("Error taking picture")
		return nil, false
	}
	if len(pic.Data) == 0 {
		logrus.Warn("Photo is not ready")
		return nil, false
	}

	c.photo = &Photo{
		URI:            pic.URI,
		EncodedPayload: base64.StdEncoding.EncodeToString(pic.Data),
	}
	c.state = StateCaptured
	logrus.WithField("uri", pic.URI).Info("Photo taken")
	p := *c.photo
	return &p, true
}

// Retake discards the captured photo, along with the camera's copy of it,
// and returns to Ready.
func (c *Controller) Retake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCaptured || c.state == StateConfirmed {
		c.discardLocked()
		c.photo = nil
		c.state = StateReady
	}
}

func (c *Controller) discardLocked() {
	d, ok := c.camera.(Discarder)
	if !ok || c.photo == nil || c.photo.URI == "" {
		return
	}
	if err := d.Discard(c.photo.URI); err != nil {
		logrus.WithError(err).WithField("uri", c.photo.URI).Warn("Error discarding photo")
	}
}

// Confirm hands the captured photo off to the generation flow.
func (c *Controller) Confirm() (*Photo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCaptured || c.photo == nil {
		return nil, ErrNoPhoto
	}
	c.state = StateConfirmed
	p := *c.photo
	return &p, nil
}

// Reset starts the flow over from Ready after a generation run ends, keeping
// nothing from the previous photo.
func (c *Controller) Reset() {
	c.Retake()
}

// ToggleFacing flips between the back and front camera.
func (c *Controller) ToggleFacing() Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.facing == FacingBack {
		c.facing = FacingFront
	} else {
		c.facing = FacingBack
	}
	return c.facing
}

// Status returns the flow state, the selected camera and the current photo.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:       c.state,
		Facing:      c.facing,
		CameraReady: c.camera.Ready(),
	}
	if c.photo != nil {
		st.PhotoURI = c.photo.URI
	}
	return st
}
