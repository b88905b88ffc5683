package urltable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidPath indicates a store path that is empty or escapes the storage
// root.
var ErrInvalidPath = errors.New("urltable: invalid store path")

// Store is a minimal key/value object store that can back a table through
// NewStoreTransport.
type Store interface {
	// Put writes data to the given path, replacing any existing object.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	// Returns ErrNotFound if the path does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Store Transport
// -----------------------------------------------------------------------------

type storeTransport struct {
	store Store
}

// NewStoreTransport creates a Transport backed by store.
//
// The locator's host and path form the object key: "mem://bucket/a.csv" maps
// to "bucket/a.csv" and "file:///a.csv" to "a.csv". Writes are buffered and
// stored on Close; Abort discards them, so an abandoned write never replaces
// the previous object.
func NewStoreTransport(store Store) Transport {
	return &storeTransport{store: store}
}

func storeKey(u *url.URL) string {
	return strings.TrimPrefix(u.Host+"/"+strings.TrimPrefix(u.Path, "/"), "/")
}

func (t *storeTransport) Open(ctx context.Context, r *Request) (io.ReadCloser, error) {
	rc, err := t.store.Get(ctx, storeKey(r.URL))
	if err != nil {
		return nil, wrapErr(KindTransport, "open", err)
	}
	return rc, nil
}

func (t *storeTransport) Create(ctx context.Context, r *Request) (WriteStream, error) {
	return &storeWriteStream{ctx: ctx, store: t.store, key: storeKey(r.URL)}, nil
}

type storeWriteStream struct {
	ctx   context.Context
	store Store
	key   string
	buf   bytes.Buffer
	ended bool
}

func (w *storeWriteStream) Write(p []byte) (int, error) {
	if w.ended {
		return 0, wrapErr(KindTransport, "write", io.ErrClosedPipe)
	}
	return w.buf.Write(p)
}

func (w *storeWriteStream) Close() error {
	if w.ended {
		return nil
	}
	w.ended = true
	if err := w.store.Put(w.ctx, w.key, &w.buf); err != nil {
		return wrapErr(KindTransport, "close", err)
	}
	return nil
}

func (w *storeWriteStream) Abort(error) {
	w.ended = true
	w.buf.Reset()
}

// objectKey validates a store path and returns its canonical slash-separated
// form. A leading slash is dropped; a path that is empty or climbs above the
// store root is rejected with ErrInvalidPath.
func objectKey(p string) (string, error) {
	key := strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "/")
	if p == "" || key == "" || key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return key, nil
}

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore keeps each object in a file under root.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at the given directory.
// The directory must exist.
//
// Put writes to a temporary file and renames it into place, so readers never
// observe a partially written object.
func NewFS(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, os.ErrNotExist)
	}
	return &fsStore{root: root}, nil
}

func (f *fsStore) file(p string) (string, error) {
	key, err := objectKey(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(key)), nil
}

func (f *fsStore) Put(ctx context.Context, p string, r io.Reader) error {
	name, err := f.file(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".urltable-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return os.Rename(tmp.Name(), name)
}

func (f *fsStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	name, err := f.file(p)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore keeps objects in a map. Stored slices are never mutated, so Get
// can hand them out without copying.
type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an in-memory Store, safe for concurrent use.
func NewMemory() Store {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, p string, r io.Reader) error {
	key, err := objectKey(p)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	key, err := objectKey(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
