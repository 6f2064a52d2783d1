// Package queue tracks the files selected for anonymization and their
// progress through a processing run. The store is the only component that
// releases preview handles, so every handle is released exactly once.
package queue

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/faceless-tools/faceless/internal/constants"
	"github.com/faceless-tools/faceless/internal/media"
	"github.com/faceless-tools/faceless/internal/preview"
)

// Status represents the processing state of a queue entry.
type Status string

// Status constants define the lifecycle states of a queue entry.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Mode selects how the queue accepts files.
type Mode string

const (
	// ModeSingle holds one file; selecting replaces it.
	ModeSingle Mode = "single"

	// ModeBatch holds up to ten files; selecting appends.
	ModeBatch Mode = "batch"
)

// Valid reports whether the mode is one of the two selection modes.
func (m Mode) Valid() bool {
	return m == ModeSingle || m == ModeBatch
}

// Capacity returns how many entries the queue holds in this mode.
func (m Mode) Capacity() int {
	if m == ModeBatch {
		return constants.BatchQueueCapacity
	}
	return constants.SingleQueueCapacity
}

// Entry is one tracked file. The token is assigned at selection time and
// never changes; uploads travel under the token so results can be matched
// back regardless of duplicate or renamed originals.
type Entry struct {
	Token         string
	File          media.File
	Status        Status
	FacesDetected int
	Preview       *preview.Handle
	ErrorMessage  string
}

// NewEntry wraps a selected file in a pending entry with a fresh token.
func NewEntry(file media.File) Entry {
	return Entry{
		Token:  uuid.New().String(),
		File:   file,
		Status: StatusPending,
	}
}

// WireName is the filename the entry travels under in upload requests: the
// token plus the original extension. Unique per entry, unlike display names.
func (e Entry) WireName() string {
	return e.Token + strings.ToLower(filepath.Ext(e.File.Name))
}

// Store is the tracked-file queue. All transitions happen under one lock, so
// concurrent reads never observe a half-applied run.
type Store struct {
	entries []Entry
	release func(*preview.Handle)
	mu      sync.RWMutex
}

// NewStore creates an empty queue. The release func is called exactly once
// for every preview handle the queue drops, replaces, or clears.
func NewStore(release func(*preview.Handle)) *Store {
	if release == nil {
		release = func(*preview.Handle) {}
	}
	return &Store{release: release}
}

// ReplaceAll swaps the whole queue for the given entries, releasing the
// previews of everything it drops.
func (s *Store) ReplaceAll(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		s.releaseLocked(&s.entries[i])
	}
	s.entries = append([]Entry(nil), entries...)
}

// Append adds entries to the end of the queue and truncates to the batch
// capacity, keeping the oldest entries. Previews of truncated entries are
// released.
func (s *Store) Append(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entries...)
	if len(s.entries) > constants.BatchQueueCapacity {
		for i := constants.BatchQueueCapacity; i < len(s.entries); i++ {
			s.releaseLocked(&s.entries[i])
		}
		s.entries = s.entries[:constants.BatchQueueCapacity]
	}
}

// MarkProcessing transitions the named entries to processing in one critical
// section and returns the tokens that actually transitioned. Re-running a
// previously succeeded entry releases its stale preview.
func (s *Store) MarkProcessing(tokens ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := make([]string, 0, len(tokens))
	for _, token := range tokens {
		entry := s.findLocked(token)
		if entry == nil {
			continue
		}
		s.releaseLocked(entry)
		entry.Status = StatusProcessing
		entry.FacesDetected = 0
		entry.ErrorMessage = ""
		marked = append(marked, token)
	}
	return marked
}

// Resolve transitions the entry to success with its faces count and preview
// handle. If the entry vanished in the meantime the orphaned handle is
// released here, keeping the store the sole releaser.
func (s *Store) Resolve(token string, faces int, handle *preview.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(token)
	if entry == nil {
		s.release(handle)
		return false
	}

	s.releaseLocked(entry)
	entry.Status = StatusSuccess
	entry.FacesDetected = faces
	entry.Preview = handle
	entry.ErrorMessage = ""
	return true
}

// Fail transitions the entry to error with the given message.
func (s *Store) Fail(token, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(token)
	if entry == nil {
		return false
	}

	s.releaseLocked(entry)
	entry.Status = StatusError
	entry.FacesDetected = 0
	entry.ErrorMessage = message
	return true
}

// FailProcessing transitions every entry still in processing to error with
// the given message and returns how many it failed. Entries already resolved
// stay as they are.
func (s *Store) FailProcessing(message string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := 0
	for i := range s.entries {
		if s.entries[i].Status != StatusProcessing {
			continue
		}
		s.entries[i].Status = StatusError
		s.entries[i].ErrorMessage = message
		failed++
	}
	return failed
}

// Reset moves the named entries from processing back to pending, as if the
// run had never started. Entries in other states are left alone.
func (s *Store) Reset(tokens ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, token := range tokens {
		entry := s.findLocked(token)
		if entry == nil || entry.Status != StatusProcessing {
			continue
		}
		entry.Status = StatusPending
		entry.ErrorMessage = ""
		reset++
	}
	return reset
}

// Clear empties the queue, releasing every held preview. Clearing an empty
// queue is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		s.releaseLocked(&s.entries[i])
	}
	s.entries = nil
}

// Entries returns a copy of the queue in order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of tracked files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// findLocked returns a pointer into the entries slice, valid only while the
// lock is held.
func (s *Store) findLocked(token string) *Entry {
	for i := range s.entries {
		if s.entries[i].Token == token {
			return &s.entries[i]
		}
	}
	return nil
}

// releaseLocked releases the entry's preview handle, if any, and detaches it.
func (s *Store) releaseLocked(entry *Entry) {
	if entry.Preview == nil {
		return
	}
	s.release(entry.Preview)
	entry.Preview = nil
}
