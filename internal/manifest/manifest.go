// Package manifest records what a load session wrote so the bulk-load step
// (and a human) can tell finished generations from leftovers of a failed run.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/basekick-labs/bulkloader/internal/storage"
	"github.com/rs/zerolog"
)

// Status represents the state of a load session
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// DirName is the per-table directory holding session manifests
const DirName = "_manifests"

// Generation describes one flushed file set.
type Generation struct {
	Number         int       `json:"number"`
	Partitions     int64     `json:"partitions"`
	Rows           int64     `json:"rows"`
	MinToken       int64     `json:"min_token"`
	MaxToken       int64     `json:"max_token"`
	DataSize       int64     `json:"data_size"`
	CompressedSize int64     `json:"compressed_size"`
	Digest         string    `json:"digest"`
	Components     []string  `json:"components"`
	Uploaded       bool      `json:"uploaded,omitempty"`
	WrittenAt      time.Time `json:"written_at"`
}

// Manifest is the JSON document written to <keyspace>/<table>/_manifests/<session>.json.
// It is rewritten after every generation and once more when the session ends.
type Manifest struct {
	SessionID   string       `json:"session_id"`
	Keyspace    string       `json:"keyspace"`
	Table       string       `json:"table"`
	Status      Status       `json:"status"`
	Partitioner string       `json:"partitioner"`
	Compression string       `json:"compression"`
	RowsWritten int64        `json:"rows_written"`
	Generations []Generation `json:"generations"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`

	CreateStatement string `json:"create_statement"`
	InsertStatement string `json:"insert_statement"`
}

// Manager reads and writes the manifests of one table directory.
type Manager struct {
	backend  storage.Backend
	keyspace string
	table    string
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewManager creates a manager for <keyspace>/<table>
func NewManager(backend storage.Backend, keyspace, table string, logger zerolog.Logger) *Manager {
	return &Manager{
		backend:  backend,
		keyspace: keyspace,
		table:    table,
		logger:   logger.With().Str("component", "manifest").Logger(),
	}
}

// Dir returns the manifest directory relative to the backend root
func (m *Manager) Dir() string {
	return path.Join(m.keyspace, m.table, DirName)
}

// Path returns the manifest path for a session
func (m *Manager) Path(sessionID string) string {
	return path.Join(m.Dir(), sessionID+".json")
}

// Write writes a manifest to storage, replacing the previous version
func (m *Manager) Write(ctx context.Context, manifest *Manifest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifestPath := m.Path(manifest.SessionID)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := m.backend.Write(ctx, manifestPath, data); err != nil {
		return "", fmt.Errorf("failed to write manifest to %s: %w", manifestPath, err)
	}

	m.logger.Debug().
		Str("path", manifestPath).
		Str("status", string(manifest.Status)).
		Int("generations", len(manifest.Generations)).
		Msg("Wrote session manifest")

	return manifestPath, nil
}

// Read reads a manifest from storage
func (m *Manager) Read(ctx context.Context, manifestPath string) (*Manifest, error) {
	data, err := m.backend.Read(ctx, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", manifestPath, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest %s: %w", manifestPath, err)
	}

	return &manifest, nil
}

// List lists the manifest paths of this table, sorted
func (m *Manager) List(ctx context.Context) ([]string, error) {
	objects, err := m.backend.List(ctx, m.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}

	var manifests []string
	for _, obj := range objects {
		if strings.HasSuffix(obj, ".json") {
			manifests = append(manifests, obj)
		}
	}
	sort.Strings(manifests)
	return manifests, nil
}

// RecoverInterrupted marks manifests left in_progress by a crashed run as failed.
// Only one session writes a table directory at a time, so any in_progress
// manifest other than current belongs to a dead process. It returns the
// session ids it recovered.
func (m *Manager) RecoverInterrupted(ctx context.Context, current string) ([]string, error) {
	manifests, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var recovered []string
	for _, manifestPath := range manifests {
		manifest, err := m.Read(ctx, manifestPath)
		if err != nil {
			m.logger.Warn().Err(err).Str("manifest", manifestPath).Msg("Skipping unreadable manifest")
			continue
		}
		if manifest.Status != StatusInProgress || manifest.SessionID == current {
			continue
		}

		now := time.Now().UTC()
		manifest.Status = StatusFailed
		manifest.Error = "session interrupted before close"
		manifest.FinishedAt = &now
		if _, err := m.Write(ctx, manifest); err != nil {
			return recovered, err
		}

		m.logger.Warn().
			Str("session", manifest.SessionID).
			Int("generations", len(manifest.Generations)).
			Msg("Marked interrupted session as failed")
		recovered = append(recovered, manifest.SessionID)
	}
	return recovered, nil
}
