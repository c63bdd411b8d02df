// Package track holds the generation result model and the single-slot
// TrackRecord that carries it from the capture flow to the now-playing view.
package track

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoRecord is returned by a Store when nothing has been persisted yet.
var ErrNoRecord = errors.New("no track record stored")

// SceneContext is the fixed metadata sent alongside a scene description.
type SceneContext struct {
	Location  string `json:"location"`
	Weather   string `json:"weather"`
	TimeOfDay string `json:"time_of_day"`
}

// Song is one generated clip.
type Song struct {
	ID       string
	Title    string
	ImageURL string
	AudioRef string // raw audio reference as returned by the service
}

// GenerationResult is the decoded response of the music generation service.
// The original document is kept so the record can be persisted verbatim.
type GenerationResult struct {
	Lyrics    string
	Title     string
	GenreTags []string
	Songs     []Song

	raw json.RawMessage
}

type wireResult struct {
	Lyrics    string     `json:"lyrics,omitempty"`
	Title     string     `json:"title,omitempty"`
	GenreTags []string   `json:"genre_tags,omitempty"`
	Songs     []wireSong `json:"songs"`
}

type wireSong struct {
	ID   string   `json:"id,omitempty"`
	Data wireData `json:"data"`
}

type wireData struct {
	AudioURL string `json:"audio_url"`
	ImageURL string `json:"image_url"`
	Title    string `json:"title"`
}

// Decode parses a generation service document.
func Decode(data []byte) (*GenerationResult, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode generation result: %w", err)
	}

	r := &GenerationResult{
		Lyrics:    w.Lyrics,
		Title:     w.Title,
		GenreTags: w.GenreTags,
		Songs:     make([]Song, 0, len(w.Songs)),
		raw:       append(json.RawMessage(nil), data...),
	}
	for _, s := range w.Songs {
		r.Songs = append(r.Songs, Song{
			ID:       s.ID,
			Title:    s.Data.Title,
			ImageURL: s.Data.ImageURL,
			AudioRef: s.Data.AudioURL,
		})
	}
	return r, nil
}

// Encode renders the result as an indented JSON document. Results that came
// from Decode are written back verbatim, including fields this package does
// not model.
func Encode(r *GenerationResult) ([]byte, error) {
	if len(r.raw) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, r.raw, "", "  "); err != nil {
			return nil, fmt.Errorf("indent generation result: %w", err)
		}
		return buf.Bytes(), nil
	}

	w := wireResult{
		Lyrics:    r.Lyrics,
		Title:     r.Title,
		GenreTags: r.GenreTags,
		Songs:     make([]wireSong, 0, len(r.Songs)),
	}
	for _, s := range r.Songs {
		w.Songs = append(w.Songs, wireSong{
			ID:   s.ID,
			Data: wireData{AudioURL: s.AudioRef, ImageURL: s.ImageURL, Title: s.Title},
		})
	}
	return json.MarshalIndent(w, "", "  ")
}

// MarshalJSON emits the same document Encode persists.
func (r *GenerationResult) MarshalJSON() ([]byte, error) {
	return Encode(r)
}

// First returns the song the player consumes. Only the first entry is used.
func (r *GenerationResult) First() (Song, bool) {
	if r == nil || len(r.Songs) == 0 {
		return Song{}, false
	}
	return r.Songs[0], true
}

// Store persists the single most recent TrackRecord. Save overwrites.
type Store interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
}

// SaveResult encodes r and overwrites the stored record.
func SaveResult(ctx context.Context, s Store, r *GenerationResult) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	return s.Save(ctx, data)
}

// LoadResult reads back and decodes the stored record.
func LoadResult(ctx context.Context, s Store) (*GenerationResult, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
