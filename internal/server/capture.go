package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/snaptracks/internal/capture"
	"github.com/satindergrewal/snaptracks/internal/pipeline"
)

type captureResponse struct {
	Captured bool           `json:"captured"`
	Photo    *capture.Photo `json:"photo,omitempty"`
	Status   capture.Status `json:"status"`
}

type facingResponse struct {
	Facing capture.Facing `json:"facing"`
}

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.Capture.Status())
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if err := s.Capture.RequestPermission(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.Capture.Status())
}

// handleFrame accepts the raw bytes of one viewfinder frame.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.Frames == nil {
		writeJSON(w, r, http.StatusNotImplemented, errorResponse{Error: "camera does not accept frames"})
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "frame too large"})
			return
		}
		badRequest(w, r, "unreadable frame")
		return
	}
	if len(data) == 0 {
		badRequest(w, r, "empty frame")
		return
	}
	s.Frames.Feed(data)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFacing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, facingResponse{Facing: s.Capture.ToggleFacing()})
}

// handleCapture never fails: a capture that could not be taken reports
// captured=false and the unchanged state.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	photo, ok := s.Capture.Capture(r.Context())
	writeJSON(w, r, http.StatusOK, captureResponse{
		Captured: ok,
		Photo:    photo,
		Status:   s.Capture.Status(),
	})
}

func (s *Server) handleRetake(w http.ResponseWriter, r *http.Request) {
	s.Capture.Retake()
	writeJSON(w, r, http.StatusOK, s.Capture.Status())
}

// handleConfirm starts a generation run in the background and returns at
// once. The run is begun before responding, so a status read after the 202
// already sees it. Only one run may be in flight.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if s.Pipeline.InProgress() {
		writeJSON(w, r, http.StatusConflict, errorResponse{Error: "generation already in progress"})
		return
	}
	photo, err := s.Capture.Confirm()
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !s.Pipeline.Begin() {
		writeError(w, r, pipeline.ErrInProgress)
		return
	}

	go func() {
		if err := s.Pipeline.Run(s.baseContext(), photo); err != nil {
			logrus.WithError(err).Debug("Background generation ended with error")
		}
	}()

	writeJSON(w, r, http.StatusAccepted, s.Capture.Status())
}
