// Package nowplaying opens the playback session for the most recently
// generated track.
package nowplaying

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/snaptracks/internal/audiourl"
	"github.com/satindergrewal/snaptracks/internal/playback"
	"github.com/satindergrewal/snaptracks/internal/track"
)

// ErrNoSong means the stored record has no playable song.
var ErrNoSong = errors.New("track record has no songs")

// EngineFactory creates a fresh engine for each session.
type EngineFactory func() playback.Engine

// Info is the display metadata of the session's track.
type Info struct {
	SongID   string `json:"song_id,omitempty"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url"`
}

// Session owns one playback controller for its lifetime.
type Session struct {
	info Info
	ctrl *playback.Controller

	closeOnce sync.Once
}

// Open reads the stored record, resolves the first song's audio URL and
// starts playing it. If the engine fails to load the session is still
// returned, in the failed phase, together with the error; it can be retried
// with Retry and must be closed either way.
func Open(ctx context.Context, store track.Store, newEngine EngineFactory, opts playback.Options) (*Session, error) {
	res, err := track.LoadResult(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("read track record: %w", err)
	}
	song, ok := res.First()
	if !ok {
		return nil, ErrNoSong
	}
	url := audiourl.Resolve(song.AudioRef)
	if url == "" {
		return nil, ErrNoSong
	}

	s := &Session{
		info: Info{
			SongID:   song.ID,
			Title:    song.Title,
			ImageURL: song.ImageURL,
			AudioURL: url,
		},
		ctrl: playback.NewController(newEngine(), opts),
	}
	if err := s.ctrl.Load(ctx, url); err != nil {
		return s, err
	}
	return s, nil
}

// Info returns the session's track metadata.
func (s *Session) Info() Info { return s.info }

func (s *Session) Controller() *playback.Controller { return s.ctrl }

// Retry reloads the track after a failed load.
func (s *Session) Retry(ctx context.Context) error {
	return s.ctrl.Load(ctx, s.info.AudioURL)
}

// Close releases the engine. Only the first call has an effect.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		logrus.WithField("audio_url", s.info.AudioURL).Info("Closing now-playing session")
		err = s.ctrl.Close(ctx)
	})
	return err
}

// Manager holds the single current session. Opening a new one closes the
// previous one first.
type Manager struct {
	store     track.Store
	newEngine EngineFactory
	opts      playback.Options

	mu      sync.Mutex
	current *Session
	onClose func(Info)
}

// NewManager creates a manager with no session open.
func NewManager(store track.Store, newEngine EngineFactory, opts playback.Options) *Manager {
	return &Manager{store: store, newEngine: newEngine, opts: opts}
}

// SetCloseFunc registers fn to run after a session is closed by Open or
// Close, with that session's track.
func (m *Manager) SetCloseFunc(fn func(Info)) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

// Open replaces the current session with a new one for the stored record.
// A session that failed to load still becomes current.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.closeSession(ctx, m.current, m.onClose)
		m.current = nil
	}

	s, err := Open(ctx, m.store, m.newEngine, m.opts)
	if s != nil {
		m.current = s
	}
	return s, err
}

// Current returns the open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close releases the current session, if any.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	s, onClose := m.current, m.onClose
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return m.closeSession(ctx, s, onClose)
}

func (m *Manager) closeSession(ctx context.Context, s *Session, onClose func(Info)) error {
	err := s.Close(ctx)
	if onClose != nil {
		onClose(s.Info())
	}
	return err
}
