package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/satindergrewal/snaptracks/internal/audio"
)

// HTTPHandler serves the now-playing output as a chunked MP3 stream.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	name        string
}

// NewHTTPHandler creates an HTTP stream handler. name is sent as ICY-Name.
func NewHTTPHandler(b *Broadcaster, name string) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, name: name}
}

// mp3Encoder builds the FFmpeg command that reads PCM on stdin and writes MP3
// on stdout.
func mp3Encoder() *exec.Cmd {
	return ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f":  "s16le",
		"ar": strconv.Itoa(audio.SampleRate),
		"ac": strconv.Itoa(audio.Channels),
	}).Output("pipe:", ffmpeg.KwArgs{
		"codec:a":       "libmp3lame",
		"b:a":           "192k",
		"f":             "mp3",
		"fflags":        "nobuffer",
		"flush_packets": "1",
		"loglevel":      "error",
	}).Compile()
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", h.name)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := mp3Encoder()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logrus.WithError(err).Error("HTTP stream: stdin pipe error")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logrus.WithError(err).Error("HTTP stream: stdout pipe error")
		return
	}

	if err := cmd.Start(); err != nil {
		logrus.WithError(err).Error("HTTP stream: ffmpeg start error")
		return
	}
	go func() {
		<-ctx.Done()
		cmd.Process.Kill()
	}()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	logrus.WithField("total", h.broadcaster.ListenerCount()).Info("HTTP listener connected")
	defer logrus.Info("HTTP listener disconnected")

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.done:
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				pcm := audio.SamplesToBytes(frame)
				if _, err := stdin.Write(pcm); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				logrus.WithError(err).Warn("HTTP stream: ffmpeg read error")
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
