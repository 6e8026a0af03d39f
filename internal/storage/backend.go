package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Read when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Backend is the object store a load session writes generations and manifests through.
// Paths are slash-separated and relative to the backend root.
type Backend interface {
	// Write writes data to the specified path, replacing any existing object
	Write(ctx context.Context, path string, data []byte) error

	// WriteReader writes data from a reader to the specified path (for large components)
	WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error

	// Read reads the whole object at path
	Read(ctx context.Context, path string) ([]byte, error)

	// List lists all objects with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete deletes the object at the specified path; a missing object is not an error
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// Close closes any resources held by the backend
	Close() error

	// Type returns the storage type identifier ("local", "s3", "azure")
	Type() string
}

// Prefixed scopes every path of an underlying backend under a fixed prefix.
// Used for mirror uploads so several loads can share one bucket.
type Prefixed struct {
	Backend
	prefix string
}

// WithPrefix returns b scoped under prefix. An empty prefix returns b unchanged.
func WithPrefix(b Backend, prefix string) Backend {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return b
	}
	return &Prefixed{Backend: b, prefix: prefix}
}

func (p *Prefixed) full(rel string) string {
	return path.Join(p.prefix, rel)
}

func (p *Prefixed) Write(ctx context.Context, rel string, data []byte) error {
	return p.Backend.Write(ctx, p.full(rel), data)
}

func (p *Prefixed) WriteReader(ctx context.Context, rel string, reader io.Reader, size int64) error {
	return p.Backend.WriteReader(ctx, p.full(rel), reader, size)
}

func (p *Prefixed) Read(ctx context.Context, rel string) ([]byte, error) {
	return p.Backend.Read(ctx, p.full(rel))
}

// List strips the prefix from the returned paths.
func (p *Prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	paths, err := p.Backend.List(ctx, p.full(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(paths))
	for _, obj := range paths {
		out = append(out, strings.TrimPrefix(strings.TrimPrefix(obj, p.prefix), "/"))
	}
	return out, nil
}

func (p *Prefixed) Delete(ctx context.Context, rel string) error {
	return p.Backend.Delete(ctx, p.full(rel))
}

func (p *Prefixed) Exists(ctx context.Context, rel string) (bool, error) {
	return p.Backend.Exists(ctx, p.full(rel))
}
