package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"
)

// AzureBlobBackend mirrors finished generations into an Azure Blob Storage container
type AzureBlobBackend struct {
	client        *azblob.Client
	containerName string
	logger        zerolog.Logger
}

// AzureBlobConfig holds Azure Blob Storage backend configuration
type AzureBlobConfig struct {
	// Connection string authentication (simplest)
	ConnectionString string

	// Account-based authentication
	AccountName string
	AccountKey  string

	// SAS token authentication
	SASToken string

	// Managed Identity authentication (for Azure-hosted deployments)
	UseManagedIdentity bool

	// Container name (required)
	ContainerName string

	// Custom endpoint (for Azurite testing)
	Endpoint string
}

func (cfg *AzureBlobConfig) serviceURL() string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
}

// NewAzureBlobBackend creates a new Azure Blob Storage backend
func NewAzureBlobBackend(ctx context.Context, cfg *AzureBlobConfig, logger zerolog.Logger) (*AzureBlobBackend, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("Azure container name is required")
	}

	log := logger.With().Str("component", "azure-storage").Logger()

	var client *azblob.Client
	var err error

	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client from connection string: %w", err)
		}
		log.Info().Msg("Using connection string authentication for Azure Blob Storage")

	case cfg.AccountName != "" && cfg.SASToken != "":
		serviceURL := fmt.Sprintf("%s?%s", cfg.serviceURL(), strings.TrimPrefix(cfg.SASToken, "?"))
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with SAS token: %w", err)
		}
		log.Info().Msg("Using SAS token authentication for Azure Blob Storage")

	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(cfg.serviceURL(), cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with shared key: %w", err)
		}
		log.Info().Msg("Using shared key authentication for Azure Blob Storage")

	case cfg.UseManagedIdentity && cfg.AccountName != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create managed identity credential: %w", credErr)
		}
		client, err = azblob.NewClient(cfg.serviceURL(), cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with managed identity: %w", err)
		}
		log.Info().Msg("Using managed identity authentication for Azure Blob Storage")

	default:
		return nil, fmt.Errorf("no valid Azure authentication method configured. Provide connection_string, account_name+account_key, account_name+sas_token, or account_name+use_managed_identity")
	}

	backend := &AzureBlobBackend{
		client:        client,
		containerName: cfg.ContainerName,
		logger:        log,
	}

	propsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := backend.container().GetProperties(propsCtx, nil); err != nil {
		log.Warn().Err(err).Str("container", cfg.ContainerName).Msg("Could not verify container exists (may need to create it)")
	} else {
		log.Info().Str("container", cfg.ContainerName).Msg("Successfully connected to Azure Blob Storage container")
	}

	return backend, nil
}

func (b *AzureBlobBackend) container() *container.Client {
	return b.client.ServiceClient().NewContainerClient(b.containerName)
}

// Write writes data to Azure Blob Storage
func (b *AzureBlobBackend) Write(ctx context.Context, path string, data []byte) error {
	return b.WriteReader(ctx, path, bytes.NewReader(data), int64(len(data)))
}

// WriteReader writes data from a reader to Azure Blob Storage
func (b *AzureBlobBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	start := time.Now()
	contentType := contentTypeFor(path)

	_, err := b.container().NewBlockBlobClient(path).UploadStream(ctx, reader, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write to Azure Blob Storage: %w", err)
	}

	b.logger.Debug().
		Str("path", path).
		Int64("size", size).
		Str("container", b.containerName).
		Dur("duration", time.Since(start)).
		Msg("Wrote to Azure Blob Storage")

	return nil
}

// Read reads data from Azure Blob Storage
func (b *AzureBlobBackend) Read(ctx context.Context, path string) ([]byte, error) {
	resp, err := b.container().NewBlobClient(path).DownloadStream(ctx, nil)
	if err != nil {
		if isAzureNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read from Azure Blob Storage: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Azure blob body: %w", err)
	}
	return data, nil
}

// List lists blobs with the given prefix
func (b *AzureBlobBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var blobs []string

	pager := b.container().NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				blobs = append(blobs, *item.Name)
			}
		}
	}
	return blobs, nil
}

// Delete deletes a blob from Azure Blob Storage
func (b *AzureBlobBackend) Delete(ctx context.Context, path string) error {
	_, err := b.container().NewBlobClient(path).Delete(ctx, nil)
	if err != nil {
		if isAzureNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob Storage: %w", err)
	}
	b.logger.Debug().Str("path", path).Msg("Deleted from Azure Blob Storage")
	return nil
}

// Exists checks if a blob exists in Azure Blob Storage
func (b *AzureBlobBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.container().NewBlobClient(path).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check Azure blob existence: %w", err)
	}
	return true, nil
}

// Close closes the Azure Blob backend (no-op for Azure)
func (b *AzureBlobBackend) Close() error {
	return nil
}

// Container returns the container name
func (b *AzureBlobBackend) Container() string {
	return b.containerName
}

// Type returns the storage type identifier
func (b *AzureBlobBackend) Type() string {
	return "azure"
}

func isAzureNotFoundError(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return strings.Contains(err.Error(), "BlobNotFound")
}
