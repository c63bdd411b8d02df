package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/satindergrewal/snaptracks/internal/capture"
	"github.com/satindergrewal/snaptracks/internal/nowplaying"
	"github.com/satindergrewal/snaptracks/internal/pipeline"
	"github.com/satindergrewal/snaptracks/internal/playback"
	"github.com/satindergrewal/snaptracks/internal/readiness"
	"github.com/satindergrewal/snaptracks/internal/remote"
	"github.com/satindergrewal/snaptracks/internal/store/memory"
	"github.com/satindergrewal/snaptracks/internal/track"
)

const record = `{"title":"Sunny Lake","songs":[{"id":"a1","data":{"audio_url":"https://cdn/audio/?item_id=a1","image_url":"https://cdn/a1.jpg","title":"Sunny Lake"}}]}`

type stubDescriber struct{}

func (stubDescriber) DescribeScene(ctx context.Context, payload string) (json.RawMessage, error) {
	return json.RawMessage(`{"scene":"lake"}`), nil
}

type stubGenerator struct{}

func (stubGenerator) GenerateMusic(ctx context.Context, desc json.RawMessage, scene track.SceneContext) (*track.GenerationResult, error) {
	return track.Decode([]byte(record))
}

type stubWaiter struct{}

func (stubWaiter) WaitUntilReady(ctx context.Context, url string) error { return nil }

// gatedWaiter lets one readiness wait through per token on release.
type gatedWaiter struct {
	release chan struct{}
}

func (g gatedWaiter) WaitUntilReady(ctx context.Context, url string) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type stubEngine struct{}

func (stubEngine) SetStatusHandler(h playback.StatusHandler) {}

func (stubEngine) Load(ctx context.Context, url string, interval time.Duration) (playback.Status, error) {
	return playback.Status{Loaded: true, IsPlaying: true, Duration: 200 * time.Second}, nil
}

func (stubEngine) Play(ctx context.Context) error                           { return nil }
func (stubEngine) Pause(ctx context.Context) error                          { return nil }
func (stubEngine) SetPosition(ctx context.Context, pos time.Duration) error { return nil }
func (stubEngine) Replay(ctx context.Context) error                         { return nil }
func (stubEngine) Unload(ctx context.Context) error                         { return nil }

type fixture struct {
	srv      *Server
	ts       *httptest.Server
	store    *memory.Store
	handoffs chan pipeline.Handoff
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithWaiter(t, stubWaiter{})
}

func newFixtureWithWaiter(t *testing.T, waiter pipeline.Waiter) *fixture {
	t.Helper()
	cam, err := capture.NewFrameCamera(t.TempDir(), capture.PermissionPrompt)
	if err != nil {
		t.Fatalf("NewFrameCamera: %v", err)
	}
	store := memory.NewStore()
	manager := nowplaying.NewManager(store, func() playback.Engine { return stubEngine{} }, playback.Options{})

	pipe := pipeline.New(stubDescriber{}, stubGenerator{}, store, waiter, track.SceneContext{Location: "Orlando"})
	handoffs := make(chan pipeline.Handoff, 1)
	pipe.SetHandoffFunc(func(h pipeline.Handoff) {
		manager.Open(context.Background())
		handoffs <- h
	})

	srv := &Server{
		Capture:    capture.NewController(cam),
		Frames:     cam,
		Pipeline:   pipe,
		NowPlaying: manager,
		Store:      store,
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		manager.Close(context.Background())
	})
	return &fixture{srv: srv, ts: ts, store: store, handoffs: handoffs}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, data, err)
		}
	}
	return resp.StatusCode, out
}

func TestCaptureToPlaybackFlow(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/camera", "")
	if code != http.StatusOK || body["state"] != string(capture.StateAwaitingPermission) {
		t.Fatalf("GET /api/camera = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/api/capture", "")
	if code != http.StatusOK || body["captured"] != false {
		t.Errorf("capture before permission = %d %v, want captured=false", code, body)
	}

	if code, body = f.do(t, http.MethodPost, "/api/camera/permission", ""); code != http.StatusOK || body["state"] != string(capture.StateReady) {
		t.Fatalf("permission = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/api/capture", "")
	if body["captured"] != false {
		t.Errorf("capture without a frame = %v, want captured=false", body)
	}

	if code, _ = f.do(t, http.MethodPost, "/api/camera/frame", "\xff\xd8fake-jpeg"); code != http.StatusNoContent {
		t.Fatalf("frame upload = %d, want 204", code)
	}

	code, body = f.do(t, http.MethodPost, "/api/capture", "")
	if code != http.StatusOK || body["captured"] != true {
		t.Fatalf("capture = %d %v, want captured=true", code, body)
	}
	photo, _ := body["photo"].(map[string]any)
	if uri, _ := photo["uri"].(string); !strings.HasPrefix(uri, "file://") {
		t.Errorf("photo uri = %v, want file://", photo["uri"])
	}

	if code, _ = f.do(t, http.MethodPost, "/api/confirm", ""); code != http.StatusAccepted {
		t.Fatalf("confirm = %d, want 202", code)
	}

	select {
	case h := <-f.handoffs:
		if h.AudioURL != "https://cdn/a1.mp3" {
			t.Errorf("handoff url = %q", h.AudioURL)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no handoff")
	}

	code, body = f.do(t, http.MethodGet, "/api/generation", "")
	ready, _ := body["ready"].(map[string]any)
	if code != http.StatusOK || ready["audio_url"] != "https://cdn/a1.mp3" {
		t.Errorf("generation = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/api/track", "")
	if code != http.StatusOK || body["title"] != "Sunny Lake" {
		t.Errorf("track = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/api/playback", "")
	if code != http.StatusOK {
		t.Fatalf("playback = %d %v", code, body)
	}
	st := body["state"].(map[string]any)
	if st["phase"] != string(playback.PhasePlaying) || body["duration"] != "3:20" {
		t.Errorf("playback body = %v", body)
	}

	code, body = f.do(t, http.MethodPost, "/api/playback/toggle", "")
	if st := body["state"].(map[string]any); code != http.StatusOK || st["phase"] != string(playback.PhasePaused) {
		t.Errorf("toggle = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/api/playback/seek", `{"position_ms": 999999}`)
	if st := body["state"].(map[string]any); code != http.StatusOK || st["position_ms"] != float64(200000) {
		t.Errorf("seek past end = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/api/playback/back", "")
	if st := body["state"].(map[string]any); code != http.StatusOK || st["position_ms"] != float64(190000) {
		t.Errorf("back = %d %v", code, body)
	}
}

func TestConfirmWithoutPhoto(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/api/confirm", ""); code != http.StatusConflict {
		t.Errorf("confirm without photo = %d, want 409", code)
	}
}

func (f *fixture) captureFrame(t *testing.T) {
	t.Helper()
	if code, _ := f.do(t, http.MethodPost, "/api/camera/frame", "\xff\xd8fake-jpeg"); code != http.StatusNoContent {
		t.Fatalf("frame upload = %d, want 204", code)
	}
	if code, body := f.do(t, http.MethodPost, "/api/capture", ""); code != http.StatusOK || body["captured"] != true {
		t.Fatalf("capture = %d %v, want captured=true", code, body)
	}
}

func (f *fixture) awaitHandoff(t *testing.T) pipeline.Handoff {
	t.Helper()
	select {
	case h := <-f.handoffs:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("no handoff")
		return pipeline.Handoff{}
	}
}

func TestConfirmStatusVisibleAfterAccept(t *testing.T) {
	release := make(chan struct{}, 1)
	f := newFixtureWithWaiter(t, gatedWaiter{release: release})

	if code, _ := f.do(t, http.MethodPost, "/api/camera/permission", ""); code != http.StatusOK {
		t.Fatalf("permission = %d", code)
	}
	f.captureFrame(t)
	release <- struct{}{}
	if code, _ := f.do(t, http.MethodPost, "/api/confirm", ""); code != http.StatusAccepted {
		t.Fatalf("first confirm = %d, want 202", code)
	}
	f.awaitHandoff(t)

	if code, _ := f.do(t, http.MethodPost, "/api/retake", ""); code != http.StatusOK {
		t.Fatalf("retake = %d", code)
	}
	f.captureFrame(t)
	if code, _ := f.do(t, http.MethodPost, "/api/confirm", ""); code != http.StatusAccepted {
		t.Fatalf("second confirm = %d, want 202", code)
	}

	code, body := f.do(t, http.MethodGet, "/api/generation", "")
	if code != http.StatusOK || body["in_progress"] != true {
		t.Errorf("generation right after 202 = %d %v, want in_progress", code, body)
	}
	if _, ok := body["ready"]; ok {
		t.Errorf("generation right after 202 still reports the previous track: %v", body)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/confirm", ""); code != http.StatusConflict {
		t.Errorf("confirm during a run = %d, want 409", code)
	}

	release <- struct{}{}
	f.awaitHandoff(t)
}

func TestPlaybackWithoutSession(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/playback", "/api/playback/toggle", "/api/playback/events"} {
		method := http.MethodPost
		if path != "/api/playback/toggle" {
			method = http.MethodGet
		}
		if code, _ := f.do(t, method, path, ""); code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", method, path, code)
		}
	}
	if code, _ := f.do(t, http.MethodPost, "/api/playback/open", ""); code != http.StatusNotFound {
		t.Errorf("open without record = %d, want 404", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/track", ""); code != http.StatusNotFound {
		t.Errorf("track without record = %d, want 404", code)
	}
}

func TestPlaybackValidation(t *testing.T) {
	f := newFixture(t)
	f.store.Save(context.Background(), []byte(record))
	if code, _ := f.do(t, http.MethodPost, "/api/playback/open", ""); code != http.StatusOK {
		t.Fatalf("open = %d", code)
	}

	tests := []struct {
		path string
		body string
		want int
	}{
		{"/api/playback/seek", "", http.StatusBadRequest},
		{"/api/playback/seek", `{"delta_ms": 5}`, http.StatusBadRequest},
		{"/api/playback/skip", `{"delta_ms": -5000}`, http.StatusOK},
		{"/api/playback/scrub/move", `{"position_ms": 1000}`, http.StatusConflict},
		{"/api/playback/scrub/start", "", http.StatusOK},
		{"/api/playback/scrub/move", `{"position_ms": 1000}`, http.StatusOK},
		{"/api/playback/scrub/commit", `{"position_ms": 2000}`, http.StatusOK},
		{"/api/playback/forward", "", http.StatusOK},
		{"/api/playback/close", "", http.StatusNoContent},
		{"/api/playback/toggle", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		if code, body := f.do(t, http.MethodPost, tt.path, tt.body); code != tt.want {
			t.Errorf("POST %s %s = %d %v, want %d", tt.path, tt.body, code, body, tt.want)
		}
	}
}

func TestPlaybackEvents(t *testing.T) {
	f := newFixture(t)
	f.store.Save(context.Background(), []byte(record))
	if _, err := f.srv.NowPlaying.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/api/playback/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for len(lines) < 2 && sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) < 2 || lines[0] != "event: state" || !strings.HasPrefix(lines[1], "data: ") {
		t.Fatalf("first event = %q", lines)
	}
	var st playback.State
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &st); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if st.Phase != playback.PhasePlaying || st.DurationMs != 200000 {
		t.Errorf("event state = %+v", st)
	}
}

func TestPlaylist(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/api/playlist")
	if err != nil {
		t.Fatalf("GET playlist: %v", err)
	}
	defer resp.Body.Close()

	var list []PlaylistEntry
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 3 || list[0].Title != "Current Song - Example Song 1" {
		t.Errorf("playlist = %+v", list)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{playback.ErrInvalidState, http.StatusConflict},
		{fmt.Errorf("confirm: %w", capture.ErrNoPhoto), http.StatusConflict},
		{capture.ErrPermissionDenied, http.StatusForbidden},
		{fmt.Errorf("read: %w", track.ErrNoRecord), http.StatusNotFound},
		{nowplaying.ErrNoSong, http.StatusNotFound},
		{pipeline.ErrInProgress, http.StatusConflict},
		{&playback.PlaybackError{Op: "load", Err: errors.New("404")}, http.StatusBadGateway},
		{fmt.Errorf("describe: %w", &remote.ServiceError{Endpoint: "describe_image", StatusCode: 500}), http.StatusBadGateway},
		{&readiness.TimeoutError{URL: "https://cdn/a1.mp3", Timeout: time.Minute, Attempts: 30}, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
