package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/snaptracks/internal/audio"
	"github.com/satindergrewal/snaptracks/internal/capture"
	"github.com/satindergrewal/snaptracks/internal/config"
	"github.com/satindergrewal/snaptracks/internal/nowplaying"
	"github.com/satindergrewal/snaptracks/internal/pipeline"
	"github.com/satindergrewal/snaptracks/internal/playback"
	"github.com/satindergrewal/snaptracks/internal/readiness"
	"github.com/satindergrewal/snaptracks/internal/remote"
	"github.com/satindergrewal/snaptracks/internal/server"
	"github.com/satindergrewal/snaptracks/internal/store"
	"github.com/satindergrewal/snaptracks/internal/stream"
	"github.com/satindergrewal/snaptracks/internal/track"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logrus.Info("snaptracks starting up...")

	trackStore, err := store.Open(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open track store")
	}
	defer trackStore.Close()

	// Camera: viewfinder frames are pushed by the client
	camera, err := capture.NewFrameCamera(cfg.CaptureDir, cfg.CameraPermission)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up camera")
	}
	captureCtl := capture.NewController(camera)
	if cfg.CameraPermission == capture.PermissionGranted {
		if err := captureCtl.RequestPermission(ctx); err != nil {
			logrus.WithError(err).Warn("Camera permission not granted")
		}
	}

	// Audio output: one shared frame channel feeds every listener
	frames := make(chan []int16, 100)
	broadcaster := stream.NewBroadcaster(100 * time.Millisecond)
	go broadcaster.Run(ctx, frames)

	nowPlaying := nowplaying.NewManager(trackStore, func() playback.Engine {
		return audio.NewPlayer(frames, nil)
	}, playback.Options{
		StatusInterval: cfg.StatusInterval,
		SkipStep:       cfg.SkipStep,
	})
	defer nowPlaying.Close(context.Background())

	// Generation pipeline
	client := remote.NewClient(cfg.DescribeURL, cfg.GenerateURL)
	poller := readiness.NewPoller(nil, cfg.ReadyTimeout, cfg.ReadyInterval)
	gen := pipeline.New(client, client, trackStore, poller, track.SceneContext{
		Location:  cfg.Location,
		Weather:   cfg.Weather,
		TimeOfDay: cfg.TimeOfDay,
	})
	gen.SetHandoffFunc(func(h pipeline.Handoff) {
		if _, err := nowPlaying.Open(ctx); err != nil {
			logrus.WithError(err).WithField("run_id", h.RunID).Error("Failed to start playback")
		}
		captureCtl.Reset()
	})
	gen.SetFailureFunc(func(err error) {
		captureCtl.Reset()
	})

	offer := stream.NewWebRTCHandler(broadcaster, "snaptracks", func() (nowplaying.Info, bool) {
		if s := nowPlaying.Current(); s != nil {
			return s.Info(), true
		}
		return nowplaying.Info{}, false
	})
	nowPlaying.SetCloseFunc(func(info nowplaying.Info) {
		offer.ClosePeers(info.SongID)
	})

	srv := &server.Server{
		BaseContext: ctx,
		Capture:     captureCtl,
		Frames:      camera,
		Pipeline:    gen,
		NowPlaying:  nowPlaying,
		Store:       trackStore,
		Stream:      stream.NewHTTPHandler(broadcaster, "snaptracks"),
		Offer:       offer,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Routes()}

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Forcing server close")
			httpServer.Close()
		}
	}()

	logrus.WithField("addr", addr).Info("snaptracks live")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("HTTP server error")
	}
}
