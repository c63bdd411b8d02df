package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/snaptracks/internal/nowplaying"
	"github.com/satindergrewal/snaptracks/internal/playback"
)

type sessionKey struct{}

type playbackResponse struct {
	Track    nowplaying.Info `json:"track"`
	State    playback.State  `json:"state"`
	Position string          `json:"position"`
	Duration string          `json:"duration"`
}

func newPlaybackResponse(sess *nowplaying.Session) playbackResponse {
	st := sess.Controller().State()
	return playbackResponse{
		Track:    sess.Info(),
		State:    st,
		Position: playback.FormatTime(st.PositionMs),
		Duration: playback.FormatTime(st.DurationMs),
	}
}

// withSession resolves the current now-playing session or answers 404.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.NowPlaying.Current()
		if sess == nil {
			writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "nothing is playing"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	}
}

func session(r *http.Request) *nowplaying.Session {
	return r.Context().Value(sessionKey{}).(*nowplaying.Session)
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, r *http.Request) {
	sess := s.NowPlaying.Current()
	if sess == nil {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "nothing is playing"})
		return
	}
	writeJSON(w, r, http.StatusOK, newPlaybackResponse(sess))
}

// handleOpen (re)opens the now-playing view for the stored record.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	sess, err := s.NowPlaying.Open(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newPlaybackResponse(sess))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.NowPlaying.Close(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// control runs a controller operation and answers with the new state.
func control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, c *playback.Controller) error) {
	sess := session(r)
	if err := op(r.Context(), sess.Controller()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newPlaybackResponse(sess))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := sess.Retry(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newPlaybackResponse(sess))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.TogglePlayPause(ctx)
	})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	req, err := decodePosition(r)
	if err != nil || req.PositionMs == nil {
		badRequest(w, r, "position_ms required")
		return
	}
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.Seek(ctx, millis(*req.PositionMs))
	})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	req, err := decodePosition(r)
	if err != nil || req.DeltaMs == nil {
		badRequest(w, r, "delta_ms required")
		return
	}
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.SkipBy(ctx, millis(*req.DeltaMs))
	})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.SkipForward(ctx)
	})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.SkipBackward(ctx)
	})
}

func (s *Server) handleScrubStart(w http.ResponseWriter, r *http.Request) {
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.BeginScrub()
	})
}

func (s *Server) handleScrubMove(w http.ResponseWriter, r *http.Request) {
	req, err := decodePosition(r)
	if err != nil || req.PositionMs == nil {
		badRequest(w, r, "position_ms required")
		return
	}
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.ScrubTo(millis(*req.PositionMs))
	})
}

func (s *Server) handleScrubCommit(w http.ResponseWriter, r *http.Request) {
	req, err := decodePosition(r)
	if err != nil || req.PositionMs == nil {
		badRequest(w, r, "position_ms required")
		return
	}
	control(w, r, func(ctx context.Context, c *playback.Controller) error {
		return c.CommitScrub(ctx, millis(*req.PositionMs))
	})
}

// handleEvents streams playback state as server-sent events until the client
// goes away or the session is closed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	updates, cancel := session(r).Controller().Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				logrus.WithError(err).Error("Error encoding playback state")
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
