package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// chdirEmpty moves the test into a directory without a bulkloader.toml.
func chdirEmpty(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	chdirEmpty(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Writer.FlushRows != 100000 {
		t.Errorf("Writer.FlushRows = %d, want 100000", cfg.Writer.FlushRows)
	}
	if cfg.Writer.FlushSize != 128*1024*1024 {
		t.Errorf("Writer.FlushSize = %d, want 128MB", cfg.Writer.FlushSize)
	}
	if cfg.Writer.IndexInterval != 128 {
		t.Errorf("Writer.IndexInterval = %d, want 128", cfg.Writer.IndexInterval)
	}
	if cfg.Writer.Compression != "zstd" {
		t.Errorf("Writer.Compression = %q, want zstd", cfg.Writer.Compression)
	}
	if cfg.Writer.ChunkSize != 64*1024 {
		t.Errorf("Writer.ChunkSize = %d, want 64KB", cfg.Writer.ChunkSize)
	}
	if !cfg.Writer.BackgroundFlush {
		t.Error("Writer.BackgroundFlush should default to true")
	}
	if cfg.Writer.Sorted {
		t.Error("Writer.Sorted should default to false")
	}
	if cfg.Input.Delimiter != "," {
		t.Errorf("Input.Delimiter = %q, want ','", cfg.Input.Delimiter)
	}
	if cfg.Input.ProgressInterval != 10000 {
		t.Errorf("Input.ProgressInterval = %d, want 10000", cfg.Input.ProgressInterval)
	}
	if cfg.Export.Parquet {
		t.Error("Export.Parquet should default to false")
	}
	if cfg.Upload.Backend != "" {
		t.Errorf("Upload.Backend = %q, want empty", cfg.Upload.Backend)
	}
	if cfg.Metrics.ListenAddr != "" {
		t.Errorf("Metrics.ListenAddr = %q, want empty", cfg.Metrics.ListenAddr)
	}
	if cfg.Shutdown.TimeoutSeconds != 30 {
		t.Errorf("Shutdown.TimeoutSeconds = %d, want 30", cfg.Shutdown.TimeoutSeconds)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirEmpty(t)

	t.Setenv("BULKLOADER_WRITER_FLUSH_ROWS", "500")
	t.Setenv("BULKLOADER_WRITER_FLUSH_SIZE", "16MB")
	t.Setenv("BULKLOADER_WRITER_COMPRESSION", "SNAPPY")
	t.Setenv("BULKLOADER_WRITER_SORTED", "true")
	t.Setenv("BULKLOADER_INPUT_SKIP_HEADER", "true")
	t.Setenv("BULKLOADER_METRICS_LISTEN_ADDR", "127.0.0.1:9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Writer.FlushRows != 500 {
		t.Errorf("Writer.FlushRows = %d, want 500 (from env)", cfg.Writer.FlushRows)
	}
	if cfg.Writer.FlushSize != 16*1024*1024 {
		t.Errorf("Writer.FlushSize = %d, want 16MB (from env)", cfg.Writer.FlushSize)
	}
	if cfg.Writer.Compression != "snappy" {
		t.Errorf("Writer.Compression = %q, want snappy (from env)", cfg.Writer.Compression)
	}
	if !cfg.Writer.Sorted {
		t.Error("Writer.Sorted = false, want true (from env)")
	}
	if !cfg.Input.SkipHeader {
		t.Error("Input.SkipHeader = false, want true (from env)")
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("Metrics.ListenAddr = %q, want 127.0.0.1:9090 (from env)", cfg.Metrics.ListenAddr)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	chdirEmpty(t)

	path := filepath.Join(t.TempDir(), "custom.toml")
	content := `
[writer]
flush_rows = 2000
compression = "none"

[export]
parquet = true
parquet_compression = "zstd"

[upload]
backend = "s3"
s3_bucket = "annotations"
prefix = "loads/2024"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Writer.FlushRows != 2000 {
		t.Errorf("Writer.FlushRows = %d, want 2000", cfg.Writer.FlushRows)
	}
	if cfg.Writer.Compression != "none" {
		t.Errorf("Writer.Compression = %q, want none", cfg.Writer.Compression)
	}
	if !cfg.Export.Parquet || cfg.Export.ParquetCompression != "zstd" {
		t.Errorf("Export = %+v, want parquet with zstd", cfg.Export)
	}
	if cfg.Upload.Backend != "s3" || cfg.Upload.S3Bucket != "annotations" || cfg.Upload.Prefix != "loads/2024" {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
	// untouched keys keep their defaults
	if cfg.Writer.IndexInterval != 128 {
		t.Errorf("Writer.IndexInterval = %d, want 128", cfg.Writer.IndexInterval)
	}
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	chdirEmpty(t)

	if err := os.WriteFile("bulkloader.toml", []byte("[input]\ndelimiter = \"\\t\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Input.Delimiter != "\t" {
		t.Errorf("Input.Delimiter = %q, want tab", cfg.Input.Delimiter)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	chdirEmpty(t)

	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("Load() with a missing explicit file should fail")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
		want  string
	}{
		{"BULKLOADER_WRITER_COMPRESSION", "lz4", "writer.compression"},
		{"BULKLOADER_WRITER_FLUSH_ROWS", "0", "writer.flush_rows"},
		{"BULKLOADER_WRITER_FLUSH_SIZE", "1TB", "writer.flush_size"},
		{"BULKLOADER_WRITER_BLOOM_FP_CHANCE", "1.5", "writer.bloom_fp_chance"},
		{"BULKLOADER_INPUT_DELIMITER", ";;", "input.delimiter"},
		{"BULKLOADER_EXPORT_PARQUET_COMPRESSION", "brotli", "export.parquet_compression"},
		{"BULKLOADER_UPLOAD_BACKEND", "gcs", "upload.backend"},
		{"BULKLOADER_UPLOAD_BACKEND", "s3", "upload.s3_bucket"},
		{"BULKLOADER_UPLOAD_BACKEND", "azure", "upload.azure_container"},
	}

	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			chdirEmpty(t)
			t.Setenv(tt.env, tt.value)

			_, err := Load("")
			if err == nil {
				t.Fatalf("Load() should fail for %s=%s", tt.env, tt.value)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1GB", 1024 * 1024 * 1024, false},
		{"128MB", 128 * 1024 * 1024, false},
		{"64kb", 64 * 1024, false},
		{"1.5MB", 1536 * 1024, false},
		{"100B", 100, false},
		{"4096", 4096, false},
		{" 2 MB ", 2 * 1024 * 1024, false},
		{"", 0, true},
		{"1TB", 0, true},
		{"abc", 0, true},
		{"-1MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
