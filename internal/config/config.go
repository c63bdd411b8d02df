package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Remote generation service
	DescribeURL string
	GenerateURL string

	// Fixed scene context sent with every generation request
	Location  string
	Weather   string
	TimeOfDay string

	// Readiness polling for the generated audio file
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration

	// Playback
	StatusInterval time.Duration // engine status update period
	SkipStep       time.Duration // skip forward/back amount

	// Capture
	CameraPermission string // granted, denied or prompt
	CaptureDir       string

	// Track record storage
	StorageType string // filesystem, memory, sqlite, s3, redis
	TrackFile   string
	SQLiteDSN   string
	S3Bucket    string
	S3Key       string
	AWSRegion   string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	RedisKey    string

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded .env file")
	}

	return Config{
		Port: envInt("SNAP_PORT", 8080),

		DescribeURL: envStr("SNAP_DESCRIBE_URL", "http://localhost:5000/describe_image"),
		GenerateURL: envStr("SNAP_GENERATE_URL", "http://localhost:5000/generate_music"),

		Location:  envStr("SNAP_LOCATION", "Orlando"),
		Weather:   envStr("SNAP_WEATHER", "Sunny"),
		TimeOfDay: envStr("SNAP_TIME_OF_DAY", "Middle of afternoon"),

		ReadyTimeout:  envMillis("SNAP_READY_TIMEOUT_MS", 300000),
		ReadyInterval: envMillis("SNAP_READY_INTERVAL_MS", 5000),

		StatusInterval: envMillis("SNAP_STATUS_INTERVAL_MS", 500),
		SkipStep:       envMillis("SNAP_SKIP_MS", 10000),

		CameraPermission: strings.ToLower(envStr("SNAP_CAMERA_PERMISSION", "prompt")),
		CaptureDir:       envStr("SNAP_CAPTURE_DIR", filepath.Join(os.TempDir(), "snaptracks")),

		StorageType: strings.ToLower(envStr("STORAGE_TYPE", "filesystem")),
		TrackFile:   envStr("SNAP_TRACK_FILE", "./data/songs.json"),
		SQLiteDSN:   envStr("SNAP_SQLITE_DSN", "snaptracks.db"),
		S3Bucket:    envStr("S3_BUCKET_NAME", ""),
		S3Key:       envStr("S3_KEY", "songs.json"),
		AWSRegion:   envStr("AWS_REGION", ""),
		RedisAddr:   envStr("REDIS_ADDR", "localhost:6379"),
		RedisPass:   envStr("REDIS_PASS", ""),
		RedisDB:     envInt("REDIS_DB", 0),
		RedisKey:    envStr("REDIS_KEY", "snaptracks:songs"),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

// SetupLogging configures the global logrus logger from the config.
func (c Config) SetupLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.WithField("level", c.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envMillis reads a non-negative millisecond count.
func envMillis(key string, fallback int) time.Duration {
	ms := envInt(key, fallback)
	if ms < 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}
