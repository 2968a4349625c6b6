// Package store implements the directory-backed file store behind a node.
// Files live flat in one directory; the file's modification time is the
// replication timestamp, so the store never rewrites a file it isn't
// explicitly asked to overwrite.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// maxNameLen bounds file names; names of 255 bytes or more are invalid.
	maxNameLen = 255

	// compressedSuffix marks at-rest compressed files. The suffix is an
	// on-disk detail only and never appears in listings or on the wire.
	compressedSuffix = ".zst"
)

var (
	// ErrInvalidName is returned for names that fail validation.
	ErrInvalidName = errors.New("invalid file name")

	// ErrNotFound is returned when a file does not exist locally.
	ErrNotFound = errors.New("file not found")
)

// ValidateName rejects empty, oversized, and path-traversing names. The
// same check guards every boundary: local reads, peer requests, uploads.
func ValidateName(name string) error {
	if name == "" || len(name) >= maxNameLen {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidName
	}
	return nil
}

// Store is a flat, filename-keyed byte store over a single directory,
// optionally zstd-compressed at rest.
type Store struct {
	dir      string
	compress bool

	encoders sync.Pool
	decoders sync.Pool
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, compress bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	s := &Store{dir: dir, compress: compress}
	if compress {
		s.encoders = sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
				return enc
			},
		}
		s.decoders = sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil)
				return dec
			},
		}
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	if s.compress {
		name += compressedSuffix
	}
	return filepath.Join(s.dir, name)
}

// Put writes (or overwrites) the named file.
func (s *Store) Put(name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if s.compress {
		enc := s.encoders.Get().(*zstd.Encoder)
		data = enc.EncodeAll(data, nil)
		s.encoders.Put(enc)
	}
	if err := os.WriteFile(s.path(name), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Get returns the named file's bytes as originally written.
func (s *Store) Get(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if s.compress {
		dec := s.decoders.Get().(*zstd.Decoder)
		data, err = dec.DecodeAll(data, nil)
		s.decoders.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", name, err)
		}
	}
	return data, nil
}

// ModTime returns the named file's modification time.
func (s *Store) ModTime(name string) (time.Time, error) {
	if err := ValidateName(name); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return info.ModTime(), nil
}

// List returns the sorted names of all stored files.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if s.compress {
			name = strings.TrimSuffix(name, compressedSuffix)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
