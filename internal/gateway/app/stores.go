package app

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"pcbmill/internal/gateway/config"
	artifactrepo "pcbmill/internal/gateway/repository/artifact"
	"pcbmill/internal/gateway/repository/catalog"
)

type gatewayStores struct {
	catalog  *catalog.Store
	artifact artifactrepo.Store
}

func initStores(cfg *config.Config, log *zap.Logger) (*gatewayStores, error) {
	cat, err := catalog.Open(cfg.Catalog.DSN, filepath.Join(cfg.Paths.DataDir, "catalog.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open project catalog: %w", err)
	}
	log.Info("project catalog", zap.String("backend", cat.Backend()))

	artifactStore, err := chooseArtifactStore(cfg, log)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}
	return &gatewayStores{catalog: cat, artifact: artifactStore}, nil
}

// chooseArtifactStore returns nil when no object storage is configured;
// downloads are then served from disk only.
func chooseArtifactStore(cfg *config.Config, log *zap.Logger) (artifactrepo.Store, error) {
	if !cfg.Artifact.Enabled {
		return nil, nil
	}
	s3Cfg := artifactrepo.S3Config{
		Endpoint:  cfg.Artifact.Endpoint,
		Region:    cfg.Artifact.Region,
		AccessKey: cfg.Artifact.AccessKey,
		SecretKey: cfg.Artifact.SecretKey,
		Bucket:    cfg.Artifact.Bucket,
		UseSSL:    cfg.Artifact.UseSSL,
		URLExpiry: cfg.Artifact.URLExpiry,
	}
	s3Store, err := artifactrepo.NewS3Store(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
	}
	log.Info("artifact store", zap.String("bucket", s3Cfg.Bucket), zap.String("endpoint", s3Cfg.Endpoint))
	cacheCfg := artifactrepo.DefaultCacheConfig()
	if half := cfg.Artifact.URLExpiry / 2; half > 0 {
		cacheCfg.TTL = half
	}
	return artifactrepo.NewCachedStore(s3Store, cacheCfg), nil
}

func (s *gatewayStores) Close() error {
	if s == nil || s.catalog == nil {
		return nil
	}
	return s.catalog.Close()
}
