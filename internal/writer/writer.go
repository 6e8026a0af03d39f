// Package writer turns a stream of typed rows into sorted, immutable
// generations under <keyspace>/<table>/, flushing whenever the in-memory
// buffer crosses its row or byte threshold.
package writer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/basekick-labs/bulkloader/internal/codec"
	"github.com/basekick-labs/bulkloader/internal/loaderr"
	"github.com/basekick-labs/bulkloader/internal/manifest"
	"github.com/basekick-labs/bulkloader/internal/partitioner"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/basekick-labs/bulkloader/internal/sstable"
	"github.com/basekick-labs/bulkloader/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by AddRow after Close or Abort.
var ErrClosed = errors.New("writer: closed")

// Stats is a point-in-time view of a session.
type Stats struct {
	RowsAccepted  int64
	RowsBuffered  int
	BytesBuffered int64
	RowsWritten   int64
	Generations   int
}

// Writer is a single load session for one table. AddRow, Close and Abort must
// be called from one goroutine; flushes run on a background goroutine, one at
// a time and in submission order.
type Writer struct {
	ctx         context.Context
	backend     storage.Backend
	ownsBackend bool
	schema      *schema.Schema
	opts        Options
	layout      sstable.Options
	logger      zerolog.Logger

	manifests       *manifest.Manager
	uploadManifests *manifest.Manager
	flushes         *errgroup.Group

	buf     *buffer
	nextGen int
	ordinal int64
	closed  bool

	// last accepted row, for the sorted-input check
	lastToken int64
	lastKey   []byte
	lastRow   schema.Row

	mu       sync.Mutex
	err      error
	flushErr error // first failed flush; later queued flushes are skipped
	session  *manifest.Manifest
	written  int64
}

// Open starts a session writing through backend. It fails with a ConfigError
// when the schema or options are invalid or the table directory is not
// writable. Leftovers of an interrupted earlier run are cleaned up first:
// their manifests are marked failed and generations without a TOC are removed.
func Open(ctx context.Context, backend storage.Backend, s *schema.Schema, opts Options) (*Writer, error) {
	if s == nil {
		return nil, loaderr.Configf("open", "schema is required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, loaderr.Configf("open", "storage backend is required")
	}
	opts = opts.withDefaults()
	layout, err := opts.tableOptions()
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	logger := opts.Logger.With().
		Str("component", "writer").
		Str("keyspace", opts.Keyspace).
		Str("table", opts.Table).
		Logger()

	dir := sstable.TableDir(opts.Keyspace, opts.Table)
	probe := path.Join(dir, ".probe-"+sessionID)
	if err := backend.Write(ctx, probe, []byte("probe")); err != nil {
		return nil, loaderr.Config("open", fmt.Errorf("table directory %s is not writable: %w", dir, err))
	}
	if err := backend.Delete(ctx, probe); err != nil {
		return nil, loaderr.Config("open", fmt.Errorf("table directory %s is not writable: %w", dir, err))
	}

	w := &Writer{
		ctx:       context.WithoutCancel(ctx),
		backend:   backend,
		schema:    s,
		opts:      opts,
		layout:    layout,
		logger:    logger,
		manifests: manifest.NewManager(backend, opts.Keyspace, opts.Table, opts.Logger),
		flushes:   new(errgroup.Group),
		buf:       newBuffer(),
	}
	w.flushes.SetLimit(1)
	if opts.Upload != nil {
		w.uploadManifests = manifest.NewManager(opts.Upload, opts.Keyspace, opts.Table, opts.Logger)
	}

	recovered, err := w.manifests.RecoverInterrupted(ctx, sessionID)
	if err != nil {
		return nil, &loaderr.IOError{Op: "recover manifests", Path: w.manifests.Dir(), Err: err}
	}
	removed, err := sstable.RemoveIncomplete(ctx, backend, opts.Keyspace, opts.Table)
	if err != nil {
		return nil, &loaderr.IOError{Op: "remove incomplete generations", Path: dir, Err: err}
	}
	if len(recovered) > 0 || len(removed) > 0 {
		logger.Warn().
			Strs("failed_sessions", recovered).
			Ints("removed_generations", removed).
			Msg("Cleaned up after an interrupted run")
	}

	if w.nextGen, err = sstable.NextGeneration(ctx, backend, opts.Keyspace, opts.Table); err != nil {
		return nil, &loaderr.IOError{Op: "list generations", Path: dir, Err: err}
	}

	w.session = &manifest.Manifest{
		SessionID:       sessionID,
		Keyspace:        opts.Keyspace,
		Table:           opts.Table,
		Status:          manifest.StatusInProgress,
		Partitioner:     layout.Partitioner,
		Compression:     string(layout.Compression),
		Generations:     []manifest.Generation{},
		StartedAt:       time.Now().UTC(),
		CreateStatement: s.CreateStatement(opts.Keyspace),
		InsertStatement: s.InsertStatement(opts.Keyspace),
	}
	if err := w.writeManifest(ctx); err != nil {
		return nil, err
	}

	logger.Info().
		Str("session", sessionID).
		Int("first_generation", w.nextGen).
		Str("options", opts.String()).
		Msg("Writer opened")
	return w, nil
}

// OpenDir is Open over a local directory, created if missing.
func OpenDir(ctx context.Context, dir string, s *schema.Schema, opts Options) (*Writer, error) {
	backend, err := storage.NewLocalBackend(dir, opts.Logger)
	if err != nil {
		return nil, loaderr.Config("open", fmt.Errorf("cannot create output directory %s: %w", dir, err))
	}
	w, err := Open(ctx, backend, s, opts)
	if err != nil {
		backend.Close()
		return nil, err
	}
	w.ownsBackend = true
	return w, nil
}

// SessionID returns the id the manifest is stored under.
func (w *Writer) SessionID() string { return w.session.SessionID }

// failure returns the sticky error, if any.
func (w *Writer) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// fail records err unless an earlier error is already stored, and returns
// the stored error.
func (w *Writer) fail(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
	return w.err
}

// AddRow validates, keys and buffers one row, flushing when a threshold is
// reached. Any error fails the session; later calls return the same error.
func (w *Writer) AddRow(row schema.Row) error {
	if err := w.failure(); err != nil {
		return err
	}
	if w.closed {
		return ErrClosed
	}
	w.ordinal++

	if err := w.schema.CheckRow(row, w.ordinal); err != nil {
		return w.fail(err)
	}
	key, err := codec.PartitionKey(w.schema, row)
	if err != nil {
		return w.fail(&loaderr.RowError{
			Ordinal:  w.ordinal,
			Expected: fmt.Sprintf("partition key of at most %d bytes", codec.MaxKeySize),
			Actual:   "unencodable key",
			Err:      err,
		})
	}
	token := w.opts.Partitioner.Token(key)

	if w.opts.Sorted {
		if err := w.checkOrder(token, key, row); err != nil {
			return w.fail(err)
		}
	}

	w.buf.add(w.schema, token, key, row)
	w.opts.Metrics.SetBuffered(int64(w.buf.rows), w.buf.bytes)

	if w.buf.rows >= w.opts.FlushRows || w.buf.bytes >= w.opts.FlushBytes {
		return w.submit()
	}
	return nil
}

// checkOrder enforces strictly increasing (token, key, clustering) input.
// Every flushed row precedes the last accepted one, so this also keeps new
// rows after everything already written.
func (w *Writer) checkOrder(token int64, key []byte, row schema.Row) error {
	if w.lastRow != nil {
		c := partitioner.CompareKeys(w.lastToken, w.lastKey, token, key)
		if c == 0 {
			c = w.schema.CompareClustering(w.lastRow, row)
		}
		if c >= 0 {
			return &loaderr.RowError{
				Ordinal:  w.ordinal,
				Expected: fmt.Sprintf("row after token %d", w.lastToken),
				Actual:   fmt.Sprintf("token %d", token),
				Err:      errors.New("input is not in sorted order"),
			}
		}
	}
	w.lastToken, w.lastKey, w.lastRow = token, key, row
	return nil
}

// submit detaches the buffer and hands it to the flush goroutine. With
// background flushing off, the flush runs inline.
func (w *Writer) submit() error {
	if w.buf.empty() {
		return nil
	}
	buf, gen := w.buf, w.nextGen
	w.buf = newBuffer()
	w.nextGen++
	w.opts.Metrics.SetBuffered(0, 0)

	if !w.opts.BackgroundFlush {
		if err := w.flush(gen, buf); err != nil {
			w.failFlush(err)
			return w.failure()
		}
		return nil
	}

	// Blocks while the previous flush is still running.
	// Rows submitted before a row error are still written; only an earlier
	// failed flush cancels this one.
	w.flushes.Go(func() error {
		if w.flushFailure() != nil {
			return nil
		}
		if err := w.flush(gen, buf); err != nil {
			w.failFlush(err)
			return err
		}
		return nil
	})
	return w.failure()
}

func (w *Writer) flushFailure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushErr
}

// failFlush records a flush error both as the flush failure and, unless an
// earlier error is stored, as the session error.
func (w *Writer) failFlush(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flushErr == nil {
		w.flushErr = err
	}
	if w.err == nil {
		w.err = err
	}
}

// flush writes one generation, mirrors it when an upload backend is set and
// records it in the manifest.
func (w *Writer) flush(gen int, buf *buffer) error {
	start := time.Now()
	desc := sstable.Descriptor{Keyspace: w.opts.Keyspace, Table: w.opts.Table, Generation: gen}

	fs, err := w.build(desc, buf)
	if err == nil {
		err = fs.Write(w.ctx, w.backend)
	}
	w.opts.Metrics.RecordFlush(time.Since(start), err)
	if err != nil {
		w.logger.Error().Err(err).Int("generation", gen).Msg("Generation flush failed")
		return &loaderr.IOError{Op: "flush", Path: desc.Dir(), Generation: gen, Err: err}
	}

	st := fs.Statistics
	w.opts.Metrics.RecordGeneration(st.Partitions, st.UncompressedSize, st.CompressedSize, fs.Size())
	w.opts.Metrics.IncRowsWritten(st.Rows)

	components := make([]string, 0, len(fs.Files))
	for _, c := range fs.Components() {
		components = append(components, string(c))
	}
	record := manifest.Generation{
		Number:         gen,
		Partitions:     st.Partitions,
		Rows:           st.Rows,
		MinToken:       st.MinToken,
		MaxToken:       st.MaxToken,
		DataSize:       st.UncompressedSize,
		CompressedSize: st.CompressedSize,
		Digest:         fs.Digest,
		Components:     components,
		WrittenAt:      time.Now().UTC(),
	}

	if w.opts.Upload != nil {
		if err := fs.Write(w.ctx, w.opts.Upload); err != nil {
			w.opts.Metrics.IncUploadErrors()
			w.logger.Error().Err(err).Int("generation", gen).Msg("Generation upload failed")
			return &loaderr.IOError{Op: "upload", Path: desc.Dir(), Generation: gen, Err: err}
		}
		w.opts.Metrics.IncUploads(fs.Size())
		record.Uploaded = true
	}

	w.mu.Lock()
	w.session.Generations = append(w.session.Generations, record)
	w.session.RowsWritten += st.Rows
	w.written += st.Rows
	w.mu.Unlock()

	if err := w.writeManifest(w.ctx); err != nil {
		return err
	}

	w.logger.Info().
		Int("generation", gen).
		Int64("partitions", st.Partitions).
		Int64("rows", st.Rows).
		Int64("data_bytes", st.CompressedSize).
		Dur("duration", time.Since(start)).
		Msg("Flushed generation")
	return nil
}

func (w *Writer) build(desc sstable.Descriptor, buf *buffer) (*sstable.FileSet, error) {
	builder, err := sstable.NewBuilder(w.schema, desc, w.layout)
	if err != nil {
		return nil, err
	}
	for _, p := range buf.sorted(w.schema, w.opts.Sorted) {
		if err := builder.Add(p); err != nil {
			return nil, fmt.Errorf("failed to add partition: %w", err)
		}
	}
	return builder.Finish()
}

// writeManifest stores a snapshot of the session manifest, and mirrors it
// when uploading.
func (w *Writer) writeManifest(ctx context.Context) error {
	w.mu.Lock()
	snapshot := *w.session
	snapshot.Generations = slices.Clone(w.session.Generations)
	w.mu.Unlock()

	if _, err := w.manifests.Write(ctx, &snapshot); err != nil {
		return &loaderr.IOError{Op: "write manifest", Path: w.manifests.Path(snapshot.SessionID), Err: err}
	}
	if w.uploadManifests != nil {
		if _, err := w.uploadManifests.Write(ctx, &snapshot); err != nil {
			w.opts.Metrics.IncUploadErrors()
			return &loaderr.IOError{Op: "upload manifest", Path: w.uploadManifests.Path(snapshot.SessionID), Err: err}
		}
	}
	return nil
}

// finish waits for in-flight flushes and writes the final manifest.
func (w *Writer) finish(status manifest.Status) error {
	_ = w.flushes.Wait()
	err := w.failure()

	w.mu.Lock()
	now := time.Now().UTC()
	w.session.FinishedAt = &now
	w.session.Status = status
	if err != nil {
		w.session.Status = manifest.StatusFailed
		w.session.Error = err.Error()
	}
	w.mu.Unlock()

	if merr := w.writeManifest(w.ctx); merr != nil {
		w.logger.Error().Err(merr).Msg("Failed to write final manifest")
		if err == nil {
			err = w.fail(merr)
		}
	}
	if w.ownsBackend {
		if cerr := w.backend.Close(); cerr != nil {
			w.logger.Warn().Err(cerr).Msg("Failed to close storage backend")
		}
	}
	return err
}

// Close flushes the remaining rows, waits for every flush and writes the
// final manifest. It returns the session's first error, if any. Calling it
// again returns the same result.
func (w *Writer) Close() error {
	if w.closed {
		return w.failure()
	}
	w.closed = true

	if w.failure() == nil {
		_ = w.submit()
	}
	err := w.finish(manifest.StatusComplete)

	stats := w.Stats()
	event := w.logger.Info()
	if err != nil {
		event = w.logger.Error().Err(err)
	}
	event.
		Int64("rows", stats.RowsWritten).
		Int("generations", stats.Generations).
		Msg("Writer closed")
	return err
}

// CloseWithError ends the session as failed because of cause, an error raised
// outside the writer such as an unparseable input line. Buffered rows are
// discarded; generations already finished stay on disk.
func (w *Writer) CloseWithError(cause error) error {
	if w.closed {
		return w.failure()
	}
	_ = w.fail(cause)
	return w.Close()
}

// Abort stops the session without flushing the buffer. The in-flight flush
// still completes. The manifest records the session as aborted.
func (w *Writer) Abort() error {
	if w.closed {
		return w.failure()
	}
	w.closed = true
	discarded := w.buf.rows
	w.buf = newBuffer()
	w.opts.Metrics.SetBuffered(0, 0)

	err := w.finish(manifest.StatusAborted)
	w.logger.Warn().Int("discarded_rows", discarded).Msg("Writer aborted")
	return err
}

// Generations returns the generations finished so far.
func (w *Writer) Generations() []manifest.Generation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.session.Generations)
}

// Stats returns current counters. Like AddRow it must be called from the
// goroutine that writes rows.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		RowsAccepted:  w.ordinal,
		RowsBuffered:  w.buf.rows,
		BytesBuffered: w.buf.bytes,
		RowsWritten:   w.written,
		Generations:   len(w.session.Generations),
	}
}
