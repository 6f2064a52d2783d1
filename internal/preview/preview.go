// Package preview holds anonymized results in memory and hands out
// revocable handles to them. A handle stays openable until it is released;
// release frees the bytes and is exactly-once.
package preview

import (
	"sync"

	"github.com/google/uuid"
)

// Handle is a reference to one stored blob. ID addresses the blob over the
// web API; Name is the suggested download filename.
type Handle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type blob struct {
	handle Handle
	data   []byte
}

// Store keeps processed media in memory until released.
type Store struct {
	blobs map[string]blob
	mu    sync.RWMutex
}

// NewStore creates an empty preview store.
func NewStore() *Store {
	return &Store{
		blobs: make(map[string]blob),
	}
}

// Create stores the given bytes and returns a fresh handle for them.
func (s *Store) Create(data []byte, name, contentType string) *Handle {
	h := Handle{
		ID:          uuid.New().String(),
		Name:        name,
		ContentType: contentType,
		Size:        len(data),
	}

	s.mu.Lock()
	s.blobs[h.ID] = blob{handle: h, data: data}
	s.mu.Unlock()

	return &h
}

// Open returns the metadata and bytes stored under the given id.
func (s *Store) Open(id string) (Handle, []byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[id]
	if !ok {
		return Handle{}, nil, false
	}
	return b.handle, b.data, true
}

// Release frees the blob behind the handle and reports whether it was still
// held. Releasing the same handle again is a no-op.
func (s *Store) Release(h *Handle) bool {
	if h == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[h.ID]; !ok {
		return false
	}
	delete(s.blobs, h.ID)
	return true
}

// Len returns the number of blobs currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
