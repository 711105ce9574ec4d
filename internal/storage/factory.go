package storage

import "github.com/vkadlec/judikat/internal/config"

// NewArchive creates the configured Archive, or nil when archival is
// disabled. Callers treat a nil Archive as "keep everything local only".
func NewArchive(cfg *config.ArchiveConfig) (Archive, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	return NewS3Archive(&S3Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
}
