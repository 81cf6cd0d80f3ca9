package overlay

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrItemNotFound is returned when a mutation references a nonexistent item
// id. The state and version are unchanged in that case.
var ErrItemNotFound = errors.New("media item not found")

// checksumLength is the number of hex characters of the digest kept on the
// wire.
const checksumLength = 8

// Revision pairs the version counter with the checksum computed by the
// same mutation. Mutations return the Revision captured while the lock was
// held, so a delta broadcast can be labeled with the version and checksum
// of the state as of that change even when other mutations race in before
// the broadcast goes out.
type Revision struct {
	Version  int64
	Checksum string
}

// StateSnapshot is a point-in-time copy of the shared state, safe to
// serialize without holding any lock. This matches the "state" field of the
// sync_state message.
type StateSnapshot struct {
	Items        map[string]MediaItem `json:"items"`
	Version      int64                `json:"version"`
	Checksum     string               `json:"checksum"`
	LastModified time.Time            `json:"last_modified"`
}

// SharedState is the authoritative, concurrency-safe mapping of item ids to
// MediaItems, with a monotonic version counter and a content-derived
// checksum. The version counts successful mutations since process start;
// the checksum is a pure function of the item content (CreatedAt excluded)
// and is the authority for content equality between two parties. All
// mutations go through AddItem, RemoveItem, UpdateItem, and Clear; each
// bumps the version exactly once on success.
type SharedState struct {
	mu           sync.RWMutex
	store        ItemStore
	version      int64
	checksum     string
	lastModified time.Time
}

// NewSharedState constructs an empty SharedState backed by a default
// in-memory store, with the initial checksum already computed.
func NewSharedState() *SharedState {
	return NewSharedStateWithStore(NewInMemoryItemStore())
}

// NewSharedStateWithStore constructs a SharedState that uses the given
// store. Useful for testing or for plugging in a different backend.
func NewSharedStateWithStore(store ItemStore) *SharedState {
	s := &SharedState{store: store}
	s.checksum = s.checksumLocked()
	return s
}

// AddItem inserts the item under its id, silently overwriting any existing
// entry with the same id. It always succeeds, bumps the version, and
// returns the resulting revision.
func (s *SharedState) AddItem(item MediaItem) Revision {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Set(item)
	return s.bumpLocked()
}

// RemoveItem removes and returns the item with the given id along with the
// resulting revision. If the id is absent it returns ErrItemNotFound and
// the version is not bumped.
func (s *SharedState) RemoveItem(id string) (MediaItem, Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.store.Get(id)
	if !ok {
		return MediaItem{}, Revision{}, ErrItemNotFound
	}

	s.store.Delete(id)
	return item, s.bumpLocked(), nil
}

// UpdateItem merges one named property value into the item with the given
// id and stores the reconstructed item. If the id is absent it returns
// ErrItemNotFound; if the property name or value is invalid the stored item
// is untouched. CreatedAt survives the merge unchanged.
func (s *SharedState) UpdateItem(id, property string, value json.RawMessage) (MediaItem, Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.store.Get(id)
	if !ok {
		return MediaItem{}, Revision{}, ErrItemNotFound
	}

	updated, err := item.WithProperty(property, value)
	if err != nil {
		return MediaItem{}, Revision{}, err
	}

	s.store.Set(updated)
	return updated, s.bumpLocked(), nil
}

// Clear removes all items, returning the pre-clear item count and the
// resulting revision. The version is bumped even when the state was
// already empty.
func (s *SharedState) Clear() (int, Revision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.store.Len()
	for _, id := range s.store.IDs() {
		s.store.Delete(id)
	}
	return n, s.bumpLocked()
}

// PruneMissing removes every item whose backing resource is reported absent
// by the exists oracle and returns the removed ids. Each removal bumps the
// version. Called at startup before any client connects.
func (s *SharedState) PruneMissing(exists func(url string) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for _, id := range s.store.IDs() {
		item, ok := s.store.Get(id)
		if !ok {
			continue
		}
		if !exists(item.URL) {
			s.store.Delete(id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.bumpLocked()
	}
	return removed
}

// Version returns the current version counter.
func (s *SharedState) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Checksum returns the current content checksum.
func (s *SharedState) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksum
}

// Revision returns the current version and checksum as a coherent pair,
// read under one lock acquisition.
func (s *SharedState) Revision() Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Revision{Version: s.version, Checksum: s.checksum}
}

// LastModified returns the timestamp of the most recent successful mutation.
func (s *SharedState) LastModified() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastModified
}

// ItemCount returns the number of stored items. Used for diagnostics and
// metrics.
func (s *SharedState) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Len()
}

// Snapshot returns a copy of the full state for serialization. The returned
// map is owned by the caller.
func (s *SharedState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make(map[string]MediaItem, s.store.Len())
	for _, id := range s.store.IDs() {
		if item, ok := s.store.Get(id); ok {
			items[id] = item
		}
	}
	return StateSnapshot{
		Items:        items,
		Version:      s.version,
		Checksum:     s.checksum,
		LastModified: s.lastModified,
	}
}

// CalculateChecksum recomputes the checksum of the current content without
// mutating anything. Two states with identical item sets (ignoring
// CreatedAt) produce identical checksums regardless of mutation history.
func (s *SharedState) CalculateChecksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksumLocked()
}

// bumpLocked increments the version, refreshes checksum and last-modified,
// and returns the new revision. Caller must hold s.mu in write mode.
func (s *SharedState) bumpLocked() Revision {
	s.version++
	s.checksum = s.checksumLocked()
	s.lastModified = time.Now().UTC()
	return Revision{Version: s.version, Checksum: s.checksum}
}

// checksumLocked serializes the items sorted by id, with the created_at
// field stripped, and returns the first checksumLength hex characters of
// the md5 digest. Ids are compared byte-wise, which is total for any id
// format. Caller must hold s.mu.
func (s *SharedState) checksumLocked() string {
	ids := s.store.IDs()
	sort.Strings(ids)

	var buf bytes.Buffer
	for _, id := range ids {
		item, ok := s.store.Get(id)
		if !ok {
			continue
		}
		enc, err := marshalWithoutCreatedAt(item)
		if err != nil {
			continue
		}
		buf.WriteString(id)
		buf.WriteByte(':')
		buf.Write(enc)
		buf.WriteByte('\n')
	}

	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:])[:checksumLength]
}

// marshalWithoutCreatedAt renders the item as JSON with sorted keys and the
// created_at field removed, so creation time never participates in
// divergence detection.
func marshalWithoutCreatedAt(item MediaItem) ([]byte, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	delete(fields, "created_at")
	// Maps marshal with sorted keys, which keeps the serialization
	// deterministic.
	return json.Marshal(fields)
}
