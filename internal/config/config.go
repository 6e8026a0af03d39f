package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for a bulk load run
type Config struct {
	Log      LogConfig
	Writer   WriterConfig
	Input    InputConfig
	Export   ExportConfig
	Upload   UploadConfig
	Metrics  MetricsConfig
	Shutdown ShutdownConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type WriterConfig struct {
	FlushRows       int     // Buffered rows before a generation is flushed
	FlushSize       int64   // Estimated encoded bytes before a generation is flushed
	IndexInterval   int     // Summary.db samples every Nth Index.db entry
	Compression     string  // Data.db chunk compression: none, snappy, zstd
	ChunkSize       int64   // Uncompressed bytes per compression chunk
	Sorted          bool    // Input is already in (token, key, clustering) order
	BackgroundFlush bool    // Write generations from a background goroutine
	BloomFPChance   float64 // Filter.db false-positive target
}

type InputConfig struct {
	SkipHeader       bool
	Delimiter        string
	ProgressInterval int // Rows between progress lines on stdout
}

type ExportConfig struct {
	Parquet            bool   // Also write Data.parquet per generation
	ParquetCompression string // snappy, zstd, gzip, none
}

type UploadConfig struct {
	Backend string // "", "s3" or "azure"
	Prefix  string // Key prefix inside the bucket or container
	// S3/MinIO configuration
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	S3AccessKey string // AWS access key (or use AWS_ACCESS_KEY_ID env var)
	S3SecretKey string // AWS secret key (or use AWS_SECRET_ACCESS_KEY env var)
	S3UseSSL    bool
	S3PathStyle bool // Use path-style addressing (required for MinIO)
	// Azure Blob Storage configuration
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureContainer          string
	AzureEndpoint           string // Custom endpoint (for Azurite testing)
	AzureUseManagedIdentity bool
}

type MetricsConfig struct {
	ListenAddr string // Status server address; empty disables it
}

type ShutdownConfig struct {
	TimeoutSeconds int
}

// Load loads configuration from defaults, an optional TOML file and BULKLOADER_* environment
// variables. An empty path searches the default locations; a missing default file is fine,
// a missing explicit file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BULKLOADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bulkloader")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bulkloader/")
		v.AddConfigPath("$HOME/.bulkloader/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	flushSize, err := ParseSize(v.GetString("writer.flush_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid writer.flush_size: %w", err)
	}
	chunkSize, err := ParseSize(v.GetString("writer.chunk_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid writer.chunk_size: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Writer: WriterConfig{
			FlushRows:       v.GetInt("writer.flush_rows"),
			FlushSize:       flushSize,
			IndexInterval:   v.GetInt("writer.index_interval"),
			Compression:     strings.ToLower(v.GetString("writer.compression")),
			ChunkSize:       chunkSize,
			Sorted:          v.GetBool("writer.sorted"),
			BackgroundFlush: v.GetBool("writer.background_flush"),
			BloomFPChance:   v.GetFloat64("writer.bloom_fp_chance"),
		},
		Input: InputConfig{
			SkipHeader:       v.GetBool("input.skip_header"),
			Delimiter:        v.GetString("input.delimiter"),
			ProgressInterval: v.GetInt("input.progress_interval"),
		},
		Export: ExportConfig{
			Parquet:            v.GetBool("export.parquet"),
			ParquetCompression: strings.ToLower(v.GetString("export.parquet_compression")),
		},
		Upload: UploadConfig{
			Backend:                 strings.ToLower(v.GetString("upload.backend")),
			Prefix:                  v.GetString("upload.prefix"),
			S3Bucket:                v.GetString("upload.s3_bucket"),
			S3Region:                v.GetString("upload.s3_region"),
			S3Endpoint:              v.GetString("upload.s3_endpoint"),
			S3AccessKey:             v.GetString("upload.s3_access_key"),
			S3SecretKey:             v.GetString("upload.s3_secret_key"),
			S3UseSSL:                v.GetBool("upload.s3_use_ssl"),
			S3PathStyle:             v.GetBool("upload.s3_path_style"),
			AzureConnectionString:   v.GetString("upload.azure_connection_string"),
			AzureAccountName:        v.GetString("upload.azure_account_name"),
			AzureAccountKey:         v.GetString("upload.azure_account_key"),
			AzureSASToken:           v.GetString("upload.azure_sas_token"),
			AzureContainer:          v.GetString("upload.azure_container"),
			AzureEndpoint:           v.GetString("upload.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("upload.azure_use_managed_identity"),
		},
		Metrics: MetricsConfig{
			ListenAddr: v.GetString("metrics.listen_addr"),
		},
		Shutdown: ShutdownConfig{
			TimeoutSeconds: v.GetInt("shutdown.timeout_seconds"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("writer.flush_rows", 100000)
	v.SetDefault("writer.flush_size", "128MB")
	v.SetDefault("writer.index_interval", 128)
	v.SetDefault("writer.compression", "zstd")
	v.SetDefault("writer.chunk_size", "64KB")
	v.SetDefault("writer.sorted", false)
	v.SetDefault("writer.background_flush", true)
	v.SetDefault("writer.bloom_fp_chance", 0.01)

	v.SetDefault("input.skip_header", false)
	v.SetDefault("input.delimiter", ",")
	v.SetDefault("input.progress_interval", 10000)

	v.SetDefault("export.parquet", false)
	v.SetDefault("export.parquet_compression", "snappy")

	// Upload defaults - mirroring is disabled unless a backend is named
	v.SetDefault("upload.backend", "")
	v.SetDefault("upload.prefix", "")
	v.SetDefault("upload.s3_bucket", "")
	v.SetDefault("upload.s3_region", "us-east-1")
	v.SetDefault("upload.s3_endpoint", "")
	v.SetDefault("upload.s3_access_key", "")
	v.SetDefault("upload.s3_secret_key", "")
	v.SetDefault("upload.s3_use_ssl", true)
	v.SetDefault("upload.s3_path_style", false)
	v.SetDefault("upload.azure_connection_string", "")
	v.SetDefault("upload.azure_account_name", "")
	v.SetDefault("upload.azure_account_key", "")
	v.SetDefault("upload.azure_sas_token", "")
	v.SetDefault("upload.azure_container", "")
	v.SetDefault("upload.azure_endpoint", "")
	v.SetDefault("upload.azure_use_managed_identity", false)

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("shutdown.timeout_seconds", 30)
}

// Validate rejects values the writer cannot run with.
func (c *Config) Validate() error {
	w := c.Writer
	if w.FlushRows <= 0 {
		return fmt.Errorf("writer.flush_rows must be positive, got %d", w.FlushRows)
	}
	if w.FlushSize <= 0 {
		return fmt.Errorf("writer.flush_size must be positive")
	}
	if w.IndexInterval <= 0 {
		return fmt.Errorf("writer.index_interval must be positive, got %d", w.IndexInterval)
	}
	switch w.Compression {
	case "none", "snappy", "zstd":
	default:
		return fmt.Errorf("writer.compression must be none, snappy or zstd, got %q", w.Compression)
	}
	if w.ChunkSize <= 0 {
		return fmt.Errorf("writer.chunk_size must be positive")
	}
	if w.BloomFPChance <= 0 || w.BloomFPChance >= 1 {
		return fmt.Errorf("writer.bloom_fp_chance must be between 0 and 1, got %v", w.BloomFPChance)
	}

	if len([]rune(c.Input.Delimiter)) != 1 {
		return fmt.Errorf("input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	if c.Input.ProgressInterval < 0 {
		return fmt.Errorf("input.progress_interval cannot be negative")
	}

	switch c.Export.ParquetCompression {
	case "none", "snappy", "zstd", "gzip":
	default:
		return fmt.Errorf("export.parquet_compression must be none, snappy, zstd or gzip, got %q", c.Export.ParquetCompression)
	}

	switch c.Upload.Backend {
	case "":
	case "s3":
		if c.Upload.S3Bucket == "" {
			return fmt.Errorf("upload.s3_bucket is required when upload.backend is s3")
		}
	case "azure":
		if c.Upload.AzureContainer == "" {
			return fmt.Errorf("upload.azure_container is required when upload.backend is azure")
		}
	default:
		return fmt.Errorf("upload.backend must be empty, s3 or azure, got %q", c.Upload.Backend)
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Longer suffixes first so "MB" is not read as "B"
	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
