// Package jsonstore owns the JSON documents shared between the bot's modules.
// Every mutation of a file is a read-modify-write serialized by a per-path
// mutex and committed with a temp file + rename, so concurrent handlers never
// interleave writes and a crash never leaves a half-written document.
package jsonstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrCorrupt = errors.New("jsonstore: document is not a JSON object")

// Document is the top-level object of a file. Keys a caller does not touch
// are written back verbatim.
type Document map[string]json.RawMessage

// Decode unmarshals key into v. It reports false when the key is absent.
func (d Document) Decode(key string, v any) (bool, error) {
	raw, ok := d[key]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Encode marshals v into key.
func (d Document) Encode(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	d[key] = b
	return nil
}

var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	locksMu.Lock()
	defer locksMu.Unlock()
	m, ok := locks[abs]
	if !ok {
		m = &sync.Mutex{}
		locks[abs] = m
	}
	return m
}

// File is a handle on one JSON document. Handles opened on the same path
// share one writer lock.
type File struct {
	path string
	mu   *sync.Mutex
}

func Open(path string) *File {
	return &File{path: path, mu: lockFor(path)}
}

func (f *File) Path() string { return f.path }

// View reads the current document. A missing file yields an empty document.
func (f *File) View(fn func(Document) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	return fn(doc)
}

// Update applies fn to the current document and persists the result. When fn
// returns an error nothing is written.
func (f *File) Update(fn func(Document) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return f.write(doc)
}

func (f *File) read() (Document, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Document{}, nil
	}
	doc := Document{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	return doc, nil
}

func (f *File) write(doc Document) error {
	b, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.path, err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", f.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", f.path, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
