package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps one JSON document per derived key beneath a base
// directory. File names are the MD5 of the derived key.
type FileStore struct {
	dir string
}

// DefaultDir resolves the base directory used when none is configured:
// os.UserCacheDir()/cachemanager, or a temp-dir fallback.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "cachemanager")
	}
	return filepath.Join(os.TempDir(), "cachemanager")
}

// NewFile creates (if needed) dir and returns a store rooted there.
func NewFile(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the base directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key)+".json")
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read cache file: %w", err)
	}
	var doc fileRecord
	if err := json.Unmarshal(b, &doc); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode cache file: %w", err)
	}
	return doc.Record, true, nil
}

// fileRecord keeps the clear-text key next to the record for diagnostics.
type fileRecord struct {
	Key string `json:"key"`
	Record
}

// Save implements Store. The document is written to a temp file and
// renamed so readers never observe a partial write.
func (s *FileStore) Save(ctx context.Context, key string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(fileRecord{Key: key, Record: rec})
	if err != nil {
		return fmt.Errorf("failed to encode cache file: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil { //nolint:mnd
		tmp.Close()
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// RemoveNamespace implements Store by scanning every document.
func (s *FileStore) RemoveNamespace(ctx context.Context, namespace string) error {
	return s.sweep(ctx, func(rec Record) bool { return rec.Namespace == namespace })
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context) error {
	return s.sweep(ctx, func(Record) bool { return true })
}

// Purge removes documents whose record expired before now and returns
// how many were removed.
func (s *FileStore) Purge(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.sweep(ctx, func(rec Record) bool {
		if rec.Expired(now) {
			removed++
			return true
		}
		return false
	})
	return removed, err
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) sweep(ctx context.Context, match func(Record) bool) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var doc fileRecord
		// Undecodable documents are dropped along with matches.
		if json.Unmarshal(b, &doc) == nil && !match(doc.Record) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove cache file %s: %w", p, err)
		}
	}
	return nil
}

// encodeKey hashes k with MD5 and returns the hex string.
func encodeKey(k string) string {
	h := md5.New()
	_, _ = h.Write([]byte(k))
	return hex.EncodeToString(h.Sum(nil))
}
