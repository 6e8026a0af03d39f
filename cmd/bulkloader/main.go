package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/basekick-labs/bulkloader/internal/api"
	"github.com/basekick-labs/bulkloader/internal/config"
	"github.com/basekick-labs/bulkloader/internal/csvsource"
	"github.com/basekick-labs/bulkloader/internal/logger"
	"github.com/basekick-labs/bulkloader/internal/metrics"
	"github.com/basekick-labs/bulkloader/internal/progress"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/basekick-labs/bulkloader/internal/shutdown"
	"github.com/basekick-labs/bulkloader/internal/sstable"
	"github.com/basekick-labs/bulkloader/internal/storage"
	"github.com/basekick-labs/bulkloader/internal/writer"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "verify" {
		os.Exit(runVerify(os.Args[2:], os.Stdout, os.Stderr))
	}
	os.Exit(runLoad(os.Args[1:], os.Stdout, os.Stderr))
}

// runLoad converts one CSV file into generations under <outdir>/<keyspace>/<table>
// and returns the process exit code.
func runLoad(args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	fs := flag.NewFlagSet("bulkloader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a TOML config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	pos := fs.Args()
	if len(pos) < 4 {
		fmt.Fprintln(stdout, "Expecting 4 arguments - <keyspace>, <table>, <csv_file>, <output dir>")
		fmt.Fprintf(stdout, "Got: %s\n", strings.Join(pos, ", "))
		return 1
	}
	keyspace, table, filename, outdir := pos[0], pos[1], pos[2], pos[3]

	fmt.Fprintf(stdout, "keyspace: %s\n", keyspace)
	fmt.Fprintf(stdout, "table: %s\n", table)
	fmt.Fprintf(stdout, "filename: %s\n", filename)
	fmt.Fprintf(stdout, "outdir: %s\n", outdir)

	s, err := schema.Lookup(table)
	if err != nil {
		fmt.Fprintf(stdout, "Unsupported table type: %s\n", table)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger.SetupWriter(cfg.Log.Level, cfg.Log.Format, stderr)
	log.Debug().Str("version", Version).Msg("Starting bulkloader")

	m := metrics.Init(logger.Get("metrics"))
	coordinator := shutdown.New(time.Duration(cfg.Shutdown.TimeoutSeconds)*time.Second, logger.Get("shutdown"))
	ctx, stop := coordinator.Watch(context.Background())
	defer stop()
	defer func() {
		if err := coordinator.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	upload, err := storage.NewUploadBackend(ctx, cfg.Upload, logger.Get("upload"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create upload backend")
		return 1
	}
	if upload != nil {
		coordinator.Register("upload-backend", upload, shutdown.PriorityUpload)
	}

	srcOpts := csvsource.OptionsFromConfig(cfg)
	srcOpts.Metrics = m
	srcOpts.Logger = logger.Get("csvsource")
	src, err := csvsource.Open(filename, s, srcOpts)
	if err != nil {
		log.Error().Err(err).Str("filename", filename).Msg("Failed to open input")
		return 1
	}
	coordinator.Register("input", src, shutdown.PriorityInput)

	opts := writer.OptionsFromConfig(cfg, keyspace, table)
	opts.Upload = upload
	opts.Logger = log.Logger
	opts.Metrics = m
	w, err := writer.OpenDir(ctx, outdir, s, opts)
	if err != nil {
		log.Error().Err(err).Str("outdir", outdir).Msg("Failed to open writer")
		return 1
	}

	if cfg.Metrics.ListenAddr != "" {
		serverCfg := api.DefaultServerConfig()
		serverCfg.ListenAddr = cfg.Metrics.ListenAddr
		serverCfg.Keyspace = keyspace
		serverCfg.Table = table
		serverCfg.SessionID = w.SessionID()
		server := api.NewServer(serverCfg, m, logger.Get("api"))
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start status server")
			_ = w.Abort()
			return 1
		}
		coordinator.RegisterHook("status-server", server.Shutdown, shutdown.PriorityStatusServer)
	}

	reporter := progress.NewAt(stdout, cfg.Input.ProgressInterval, start)
	err = src.Each(ctx, func(row schema.Row) error {
		if err := w.AddRow(row); err != nil {
			return err
		}
		reporter.Row()
		return nil
	})

	switch {
	case err != nil && coordinator.Interrupted() != nil:
		if aerr := w.Abort(); aerr != nil {
			log.Error().Err(aerr).Msg("Load aborted with a failed flush")
		}
		log.Warn().
			Str("signal", coordinator.Interrupted().String()).
			Int64("rows", reporter.Count()).
			Msg("Load interrupted")
		return 1
	case err != nil:
		if cerr := w.CloseWithError(err); cerr != nil && !errors.Is(cerr, err) {
			log.Error().Err(cerr).Msg("Failed to finish session")
		}
		log.Error().Err(err).Int64("line", src.Line()).Msg("Load failed")
		return 1
	}

	if err := w.Close(); err != nil {
		log.Error().Err(err).Msg("Load failed")
		return 1
	}

	stats := w.Stats()
	log.Info().
		Str("session", w.SessionID()).
		Int64("rows", stats.RowsWritten).
		Int("generations", stats.Generations).
		Msg("Load complete")
	reporter.Done()
	return 0
}

// runVerify re-reads every generation of one table and checks it end to end.
func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a TOML config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pos := fs.Args()
	if len(pos) < 3 {
		fmt.Fprintln(stdout, "Expecting 3 arguments - <output dir>, <keyspace>, <table>")
		fmt.Fprintf(stdout, "Got: %s\n", strings.Join(pos, ", "))
		return 1
	}
	outdir, keyspace, table := pos[0], pos[1], pos[2]

	s, err := schema.Lookup(table)
	if err != nil {
		fmt.Fprintf(stdout, "Unsupported table type: %s\n", table)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger.SetupWriter(cfg.Log.Level, cfg.Log.Format, stderr)

	if _, err := os.Stat(outdir); err != nil {
		log.Error().Err(err).Str("outdir", outdir).Msg("Output directory not readable")
		return 1
	}
	backend, err := storage.NewLocalBackend(outdir, logger.Get("local-storage"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to open output directory")
		return 1
	}
	defer backend.Close()

	ctx := context.Background()
	gens, err := sstable.ListGenerations(ctx, backend, keyspace, table)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list generations")
		return 1
	}
	if len(gens) == 0 {
		fmt.Fprintf(stdout, "No generations found in %s\n", sstable.TableDir(keyspace, table))
		return 1
	}

	failed := 0
	var partitions, rows int64
	for _, g := range gens {
		if !g.Complete() {
			failed++
			fmt.Fprintf(stdout, "%s: INCOMPLETE (no %s)\n", g.Descriptor, sstable.ComponentTOC)
			continue
		}
		result, err := verifyGeneration(ctx, backend, s, g.Descriptor)
		if err != nil {
			failed++
			fmt.Fprintf(stdout, "%s: FAILED: %v\n", g.Descriptor, err)
			continue
		}
		partitions += result.Partitions
		rows += result.Rows
		fmt.Fprintf(stdout, "%s: OK partitions=%d rows=%d digest=%s\n",
			g.Descriptor, result.Partitions, result.Rows, result.Digest)
	}

	fmt.Fprintf(stdout, "Verified %d generations: %d partitions, %d rows, %d failed.\n",
		len(gens), partitions, rows, failed)
	if failed > 0 {
		return 1
	}
	return 0
}

func verifyGeneration(ctx context.Context, backend storage.Backend, s *schema.Schema, desc sstable.Descriptor) (*sstable.VerifyResult, error) {
	r, err := sstable.Open(ctx, backend, s, desc)
	if err != nil {
		return nil, err
	}
	return r.Verify(ctx)
}
