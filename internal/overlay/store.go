package overlay

// ItemStore is the storage abstraction for media items.
// Implementations can be in-memory, file-based, or remote.
// SharedState uses ItemStore for all reads and writes; callers of
// SharedState do not need to know which store is used.
type ItemStore interface {
	Get(id string) (MediaItem, bool)
	Set(item MediaItem)
	Delete(id string)
	Len() int
	IDs() []string
}

// InMemoryItemStore is an in-memory implementation of ItemStore.
type InMemoryItemStore struct {
	items map[string]MediaItem
}

// NewInMemoryItemStore returns a new empty in-memory store.
func NewInMemoryItemStore() *InMemoryItemStore {
	return &InMemoryItemStore{
		items: make(map[string]MediaItem),
	}
}

// Get implements ItemStore.Get.
func (s *InMemoryItemStore) Get(id string) (MediaItem, bool) {
	item, ok := s.items[id]
	return item, ok
}

// Set implements ItemStore.Set.
func (s *InMemoryItemStore) Set(item MediaItem) {
	s.items[item.ID] = item
}

// Delete implements ItemStore.Delete.
func (s *InMemoryItemStore) Delete(id string) {
	delete(s.items, id)
}

// Len implements ItemStore.Len.
func (s *InMemoryItemStore) Len() int {
	return len(s.items)
}

// IDs implements ItemStore.IDs.
func (s *InMemoryItemStore) IDs() []string {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	return ids
}
