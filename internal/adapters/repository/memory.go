package repository

import (
	"context"

	"github.com/patrickmn/go-cache"

	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
)

// MemoryStore keeps encoded sessions in process with a TTL.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore returns an in-process store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{c: cache.New(o.ttl, o.ttl/4)}
}

func (m *MemoryStore) Save(_ context.Context, s *worksheet.Session) error {
	const op = "repository.memory.Save"
	if err := validateForSave(op, s); err != nil {
		return err
	}
	data, err := worksheet.Marshal(s)
	if err != nil {
		return errs.Wrap(op, ErrStore, err)
	}
	m.c.Set(s.SessionID, data, cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*worksheet.Session, error) {
	const op = "repository.memory.Load"
	v, ok := m.c.Get(id)
	if !ok {
		return nil, errs.New(op, ErrNotFound)
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, errs.New(op, ErrStore)
	}
	return worksheet.Unmarshal(data)
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	if _, ok := m.c.Get(id); !ok {
		return errs.New("repository.memory.Delete", ErrNotFound)
	}
	m.c.Delete(id)
	return nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	return m.c.ItemCount(), nil
}

func (m *MemoryStore) Close() error {
	m.c.Flush()
	return nil
}
