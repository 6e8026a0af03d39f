package storage

import (
	"context"
	"fmt"

	"github.com/basekick-labs/bulkloader/internal/config"
	"github.com/rs/zerolog"
)

// NewUploadBackend builds the mirror backend named by cfg.Backend, scoped under cfg.Prefix.
// It returns nil when mirroring is disabled.
func NewUploadBackend(ctx context.Context, cfg config.UploadConfig, logger zerolog.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Backend {
	case "":
		return nil, nil
	case "s3":
		backend, err = NewS3Backend(ctx, &S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, logger)
	case "azure":
		backend, err = NewAzureBlobBackend(ctx, &AzureBlobConfig{
			ConnectionString:   cfg.AzureConnectionString,
			AccountName:        cfg.AzureAccountName,
			AccountKey:         cfg.AzureAccountKey,
			SASToken:           cfg.AzureSASToken,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
			ContainerName:      cfg.AzureContainer,
			Endpoint:           cfg.AzureEndpoint,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported upload backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s upload backend: %w", cfg.Backend, err)
	}

	return WithPrefix(backend, cfg.Prefix), nil
}
