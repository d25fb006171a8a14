package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystemBlobStore keeps each photo as <ref>.bin with a <ref>.json
// metadata sidecar under a single directory.
type FileSystemBlobStore struct {
	dir      string
	maxBytes int64
}

func NewFileSystemBlobStore(dir string, maxBytes int64) (*FileSystemBlobStore, error) {
	if dir == "" {
		return nil, errors.New("photo directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create photo directory: %w", err)
	}
	return &FileSystemBlobStore{dir: dir, maxBytes: limitOrDefault(maxBytes)}, nil
}

func (s *FileSystemBlobStore) paths(ref string) (string, string) {
	return filepath.Join(s.dir, ref+".bin"), filepath.Join(s.dir, ref+".json")
}

func (s *FileSystemBlobStore) Put(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	meta, data, err := prepare(meta, content, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataPath, metaPath := s.paths(meta.Ref)
	if err := os.WriteFile(dataPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("write photo: %w", err)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		os.Remove(dataPath)
		return nil, fmt.Errorf("encode photo metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0o640); err != nil {
		os.Remove(dataPath)
		return nil, fmt.Errorf("write photo metadata: %w", err)
	}

	return &meta, nil
}

func (s *FileSystemBlobStore) Get(_ context.Context, ref string) (io.ReadCloser, *Metadata, error) {
	if !validRef(ref) {
		return nil, nil, ErrInvalidRef
	}
	dataPath, metaPath := s.paths(ref)

	raw, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read photo metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode photo metadata: %w", err)
	}

	f, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open photo: %w", err)
	}
	return f, &meta, nil
}

func (s *FileSystemBlobStore) Delete(_ context.Context, ref string) error {
	if !validRef(ref) {
		return ErrInvalidRef
	}
	dataPath, metaPath := s.paths(ref)

	if err := os.Remove(metaPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("remove photo metadata: %w", err)
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove photo: %w", err)
	}
	return nil
}
