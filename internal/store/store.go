// Package store selects the TrackRecord backend from configuration.
package store

import (
	"context"
	"fmt"

	"github.com/satindergrewal/snaptracks/internal/config"
	"github.com/satindergrewal/snaptracks/internal/store/aws"
	"github.com/satindergrewal/snaptracks/internal/store/filesystem"
	"github.com/satindergrewal/snaptracks/internal/store/memory"
	"github.com/satindergrewal/snaptracks/internal/store/redisstore"
	"github.com/satindergrewal/snaptracks/internal/store/sqlite"
	"github.com/satindergrewal/snaptracks/internal/track"
	"github.com/sirupsen/logrus"
)

// Open returns the store named by cfg.StorageType.
func Open(ctx context.Context, cfg config.Config) (track.Store, error) {
	fields := logrus.Fields{"storageType": cfg.StorageType}

	var (
		s   track.Store
		err error
	)
	switch cfg.StorageType {
	case "", "filesystem":
		fields["trackFile"] = cfg.TrackFile
		s, err = filesystem.NewStore(cfg.TrackFile)
	case "memory":
		s = memory.NewStore()
	case "sqlite":
		fields["dataSourceName"] = cfg.SQLiteDSN
		s, err = sqlite.NewStore(cfg.SQLiteDSN)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage")
		}
		fields["bucketName"] = cfg.S3Bucket
		s, err = aws.NewStore(ctx, cfg.S3Bucket, cfg.S3Key, cfg.AWSRegion)
	case "redis":
		fields["redisAddr"] = cfg.RedisAddr
		s, err = redisstore.NewStore(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(fields).Info("Use storage")
	return s, nil
}
