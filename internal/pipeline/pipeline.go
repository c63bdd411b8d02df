// Package pipeline turns a confirmed photo into a playable, ready audio URL:
// describe, generate, persist, resolve, wait, hand off.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/satindergrewal/snaptracks/internal/audiourl"
	"github.com/satindergrewal/snaptracks/internal/capture"
	"github.com/satindergrewal/snaptracks/internal/track"
	"github.com/sirupsen/logrus"
)

// MalformedResultError means the generation service answered with a result
// the player cannot use, such as an empty songs list.
type MalformedResultError struct {
	Reason string
}

func (e *MalformedResultError) Error() string {
	return "malformed generation result: " + e.Reason
}

// Describer produces a scene description from an encoded image.
type Describer interface {
	DescribeScene(ctx context.Context, encodedPayload string) (json.RawMessage, error)
}

// Generator produces songs from a scene description.
type Generator interface {
	GenerateMusic(ctx context.Context, description json.RawMessage, scene track.SceneContext) (*track.GenerationResult, error)
}

// Waiter blocks until a media URL can be fetched.
type Waiter interface {
	WaitUntilReady(ctx context.Context, url string) error
}

// Handoff is the terminal success signal: the track is ready to play.
type Handoff struct {
	RunID    string     `json:"run_id"`
	AudioURL string     `json:"audio_url"`
	Song     track.Song `json:"-"`
	Title    string     `json:"title"`
	ImageURL string     `json:"image_url"`
}

// Status is a snapshot for the consuming UI.
type Status struct {
	InProgress bool     `json:"in_progress"`
	LastError  string   `json:"last_error,omitempty"`
	Ready      *Handoff `json:"ready,omitempty"`
}

// HandoffFunc receives the success signal.
type HandoffFunc func(Handoff)

// FailureFunc receives the error of a failed run.
type FailureFunc func(error)

// Pipeline runs one generation at a time. Begin is the only gate: a second
// run cannot start until the first one has cleared InProgress.
type Pipeline struct {
	describer Describer
	generator Generator
	store     track.Store
	waiter    Waiter
	scene     track.SceneContext
	resolve   func(string) string

	inProgress atomic.Bool

	mu          sync.RWMutex
	onHandoff   HandoffFunc
	onFailure   FailureFunc
	lastErr     error
	lastHandoff *Handoff
}

// New creates a pipeline. scene is the fixed context sent with every
// generation request.
func New(describer Describer, generator Generator, store track.Store, waiter Waiter, scene track.SceneContext) *Pipeline {
	return &Pipeline{
		describer: describer,
		generator: generator,
		store:     store,
		waiter:    waiter,
		scene:     scene,
		resolve:   audiourl.Resolve,
	}
}

// SetHandoffFunc sets the success callback.
func (p *Pipeline) SetHandoffFunc(fn HandoffFunc) {
	p.mu.Lock()
	p.onHandoff = fn
	p.mu.Unlock()
}

// SetFailureFunc sets the failure callback.
func (p *Pipeline) SetFailureFunc(fn FailureFunc) {
	p.mu.Lock()
	p.onFailure = fn
	p.mu.Unlock()
}

// InProgress reports whether a run is underway.
func (p *Pipeline) InProgress() bool {
	return p.inProgress.Load()
}

// LastError returns the error of the most recent run, or nil.
func (p *Pipeline) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// LastHandoff returns the result of the most recent successful run.
func (p *Pipeline) LastHandoff() (Handoff, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastHandoff == nil {
		return Handoff{}, false
	}
	return *p.lastHandoff, true
}

// Status reports the in-progress flag with the outcome of the latest run.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{InProgress: p.inProgress.Load(), Ready: p.lastHandoff}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

// ErrInProgress is returned by Confirm while another run is underway.
var ErrInProgress = errors.New("generation already in progress")

// Begin marks a run as started and forgets the previous run's result, so
// status reads right after it already report the new run. It returns false,
// changing nothing, when a run is underway. A successful Begin must be
// followed by Run.
func (p *Pipeline) Begin() bool {
	if !p.inProgress.CompareAndSwap(false, true) {
		return false
	}
	p.mu.Lock()
	p.lastErr = nil
	p.lastHandoff = nil
	p.mu.Unlock()
	return true
}

// Confirm begins a run and executes it on the calling goroutine.
func (p *Pipeline) Confirm(ctx context.Context, photo *capture.Photo) error {
	if !p.Begin() {
		return ErrInProgress
	}
	return p.Run(ctx, photo)
}

// Run executes a run started with Begin. A photo without an encoded payload
// is a silent no-op. Every failure is logged, recorded as LastError and
// passed to the failure callback; it is also returned for callers that want
// it. InProgress is cleared on every exit path before any callback runs.
func (p *Pipeline) Run(ctx context.Context, photo *capture.Photo) error {
	defer p.inProgress.Store(false)

	runID := uuid.NewString()
	log := logrus.WithField("run_id", runID)

	if photo == nil || photo.EncodedPayload == "" {
		log.Info("No base64 encoding available, nothing to generate")
		return nil
	}

	start := time.Now()
	h, err := p.run(ctx, log, photo.EncodedPayload)
	h.RunID = runID
	p.inProgress.Store(false)

	p.mu.Lock()
	onHandoff, onFailure := p.onHandoff, p.onFailure
	if err != nil {
		p.lastErr = err
	} else {
		p.lastHandoff = &h
	}
	p.mu.Unlock()

	if err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start)).Error("Generation pipeline failed")
		if onFailure != nil {
			onFailure(err)
		}
		return err
	}

	log.WithFields(logrus.Fields{
		"audio_url": h.AudioURL,
		"elapsed":   time.Since(start),
	}).Info("Track ready for playback")
	if onHandoff != nil {
		onHandoff(h)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, log *logrus.Entry, payload string) (Handoff, error) {
	log.Info("Describing scene")
	description, err := p.describer.DescribeScene(ctx, payload)
	if err != nil {
		return Handoff{}, fmt.Errorf("describe scene: %w", err)
	}

	log.Info("Generating music")
	result, err := p.generator.GenerateMusic(ctx, description, p.scene)
	if err != nil {
		return Handoff{}, fmt.Errorf("generate music: %w", err)
	}

	if err := track.SaveResult(ctx, p.store, result); err != nil {
		return Handoff{}, fmt.Errorf("persist track record: %w", err)
	}

	song, ok := result.First()
	if !ok {
		return Handoff{}, &MalformedResultError{Reason: "songs list is empty"}
	}
	if song.AudioRef == "" {
		return Handoff{}, &MalformedResultError{Reason: "first song has no audio_url"}
	}

	audioURL := p.resolve(song.AudioRef)
	log.WithField("audio_url", audioURL).Info("Waiting for generated audio")
	if err := p.waiter.WaitUntilReady(ctx, audioURL); err != nil {
		return Handoff{}, fmt.Errorf("wait for audio: %w", err)
	}

	return Handoff{
		AudioURL: audioURL,
		Song:     song,
		Title:    song.Title,
		ImageURL: song.ImageURL,
	}, nil
}
