package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// DecodeURL runs FFmpeg to decode a local path or remote URL to raw PCM int16
// samples. Returns interleaved stereo samples at 48kHz.
func DecodeURL(ctx context.Context, url string) ([]int16, error) {
	cmd := ffmpeg.Input(url).
		Output("pipe:", ffmpeg.KwArgs{
			"f":        "s16le",
			"acodec":   "pcm_s16le",
			"ar":       strconv.Itoa(SampleRate),
			"ac":       strconv.Itoa(Channels),
			"loglevel": "error",
		}).
		Compile()

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", url, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("ffmpeg decode %s: %w: %s", url, err, msg)
			}
			return nil, fmt.Errorf("ffmpeg decode %s: %w", url, err)
		}
	}

	return BytesToSamples(out.Bytes()), nil
}

// BytesToSamples converts little-endian bytes to int16 samples. A trailing odd
// byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
