// Package server exposes the capture, generation and now-playing flows to a
// UI client over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/snaptracks/internal/capture"
	"github.com/satindergrewal/snaptracks/internal/nowplaying"
	"github.com/satindergrewal/snaptracks/internal/pipeline"
	"github.com/satindergrewal/snaptracks/internal/playback"
	"github.com/satindergrewal/snaptracks/internal/readiness"
	"github.com/satindergrewal/snaptracks/internal/remote"
	"github.com/satindergrewal/snaptracks/internal/track"
)

// maxFrameBytes bounds an uploaded viewfinder frame.
const maxFrameBytes = 10 << 20

// FrameSink receives viewfinder frames from the client.
type FrameSink interface {
	Feed(frame []byte)
}

// Server wires the HTTP API to the controllers.
type Server struct {
	// BaseContext bounds background generation runs. Defaults to
	// context.Background.
	BaseContext context.Context

	Capture    *capture.Controller
	Frames     FrameSink
	Pipeline   *pipeline.Pipeline
	NowPlaying *nowplaying.Manager
	Store      track.Store

	// Optional live audio handlers mounted at /stream and /offer.
	Stream http.Handler
	Offer  http.Handler
}

// Routes builds the router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/camera", s.handleCameraStatus)
		r.Post("/camera/permission", s.handlePermission)
		r.Post("/camera/frame", s.handleFrame)
		r.Post("/camera/facing", s.handleFacing)
		r.Post("/capture", s.handleCapture)
		r.Post("/retake", s.handleRetake)
		r.Post("/confirm", s.handleConfirm)

		r.Get("/generation", s.handleGeneration)
		r.Get("/track", s.handleTrack)
		r.Get("/playlist", s.handlePlaylist)

		r.Route("/playback", func(r chi.Router) {
			r.Get("/", s.handlePlaybackState)
			r.Post("/open", s.handleOpen)
			r.Post("/close", s.handleClose)
			r.Post("/retry", s.withSession(s.handleRetry))
			r.Post("/toggle", s.withSession(s.handleToggle))
			r.Post("/seek", s.withSession(s.handleSeek))
			r.Post("/skip", s.withSession(s.handleSkip))
			r.Post("/forward", s.withSession(s.handleForward))
			r.Post("/back", s.withSession(s.handleBack))
			r.Post("/scrub/start", s.withSession(s.handleScrubStart))
			r.Post("/scrub/move", s.withSession(s.handleScrubMove))
			r.Post("/scrub/commit", s.withSession(s.handleScrubCommit))
			r.Get("/events", s.withSession(s.handleEvents))
		})
	})

	if s.Stream != nil {
		r.Handle("/stream", s.Stream)
	}
	if s.Offer != nil {
		r.Handle("/offer", s.Offer)
	}
	return r
}

func (s *Server) baseContext() context.Context {
	if s.BaseContext != nil {
		return s.BaseContext
	}
	return context.Background()
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		pe  *playback.PlaybackError
		se  *remote.ServiceError
		rte *readiness.TimeoutError
	)
	switch {
	case errors.Is(err, playback.ErrInvalidState),
		errors.Is(err, capture.ErrNoPhoto),
		errors.Is(err, pipeline.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, track.ErrNoRecord),
		errors.Is(err, nowplaying.ErrNoSong):
		return http.StatusNotFound
	case errors.As(err, &pe), errors.As(err, &se):
		return http.StatusBadGateway
	case errors.As(err, &rte), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	render.Status(r, code)
	render.JSON(w, r, v)
}

// positionRequest carries a target or offset in milliseconds.
type positionRequest struct {
	PositionMs *int64 `json:"position_ms"`
	DeltaMs    *int64 `json:"delta_ms"`
}

func decodePosition(r *http.Request) (positionRequest, error) {
	var req positionRequest
	err := render.DecodeJSON(r.Body, &req)
	return req, err
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msg})
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
