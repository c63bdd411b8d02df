package server

import (
	"net/http"

	"github.com/go-chi/render"
)

// PlaylistEntry is one row of the queue view.
type PlaylistEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// placeholderPlaylist is served until a real queue exists.
var placeholderPlaylist = []PlaylistEntry{
	{ID: "1", Title: "Current Song - Example Song 1"},
	{ID: "2", Title: "Next Song - Example Song 2"},
	{ID: "3", Title: "Next Song - Example Song 3"},
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.Pipeline.Status())
}

// handleTrack returns the stored record exactly as persisted.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	data, err := s.Store.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, placeholderPlaylist)
}
