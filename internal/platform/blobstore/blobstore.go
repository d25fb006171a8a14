// Package blobstore stores intake photos and hands back an opaque reference
// that is recorded on the medication log. Two backends exist: an in-memory
// store for development and tests, and a filesystem store rooted at a
// directory.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("photo not found")
	ErrFileTooLarge       = errors.New("photo exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("photo content type is not allowed")
	ErrEmptyContent       = errors.New("photo is empty")
	ErrInvalidRef         = errors.New("invalid photo reference")
)

// DefaultMaxBytes is used when a store is built with a non-positive limit.
const DefaultMaxBytes = 5 << 20

// AllowedContentTypes lists the image formats accepted as intake photos.
var AllowedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/heic": true,
	"image/gif":  true,
}

// Metadata describes a stored photo. Ref is the opaque value persisted as
// photo_ref.
type Metadata struct {
	Ref         string    `json:"ref"`
	OwnerID     int64     `json:"owner_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is the photo storage collaborator.
type BlobStore interface {
	Put(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error)
	Get(ctx context.Context, ref string) (io.ReadCloser, *Metadata, error)
	Delete(ctx context.Context, ref string) error
}

// prepare validates the upload, reads at most maxBytes and fills in the
// generated fields of meta.
func prepare(meta Metadata, content io.Reader, maxBytes int64) (Metadata, []byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, maxBytes+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return meta, nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return meta, nil, ErrEmptyContent
	}

	if meta.ContentType == "" || meta.ContentType == "application/octet-stream" {
		meta.ContentType = http.DetectContentType(data)
	}
	if !AllowedContentTypes[meta.ContentType] {
		return meta, nil, ErrInvalidContentType
	}

	meta.Ref = uuid.NewString()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = time.Now().UTC()
	return meta, data, nil
}

func validRef(ref string) bool {
	_, err := uuid.Parse(ref)
	return err == nil
}

func limitOrDefault(maxBytes int64) int64 {
	if maxBytes <= 0 {
		return DefaultMaxBytes
	}
	return maxBytes
}

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe BlobStore for tests and development.
type InMemoryBlobStore struct {
	mu       sync.RWMutex
	blobs    map[string]*storedBlob
	maxBytes int64
}

func NewInMemoryBlobStore(maxBytes int64) *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs:    make(map[string]*storedBlob),
		maxBytes: limitOrDefault(maxBytes),
	}
}

func (s *InMemoryBlobStore) Put(_ context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	meta, data, err := prepare(meta, content, s.maxBytes)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.Ref] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, ref string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[ref]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, ref)
	return nil
}

// Len reports the number of stored photos.
func (s *InMemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
