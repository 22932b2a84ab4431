package labels

import (
	"context"
	"sync"

	"github.com/technosupport/ts-attend/internal/data"
)

type Lister interface {
	List(ctx context.Context) ([]*data.Student, error)
}

// Entry is what the recognition loop needs to announce an identity.
type Entry struct {
	Name       string
	Department string
}

// Mapper is the in-memory labelId -> subject projection. It is refreshed at
// session start and after registry changes; reads during a session see a
// consistent snapshot.
type Mapper struct {
	lister Lister

	mu      sync.RWMutex
	entries map[int]Entry
}

func NewMapper(lister Lister) *Mapper {
	return &Mapper{
		lister:  lister,
		entries: make(map[int]Entry),
	}
}

// Refresh rebuilds the projection from the registry.
func (m *Mapper) Refresh(ctx context.Context) error {
	students, err := m.lister.List(ctx)
	if err != nil {
		return err
	}

	entries := make(map[int]Entry, len(students))
	for _, s := range students {
		entries[s.LabelID] = Entry{Name: s.Name, Department: s.Department}
	}

	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

func (m *Mapper) Contains(labelID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[labelID]
	return ok
}

func (m *Mapper) Get(labelID int) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[labelID]
	return e, ok
}

func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
