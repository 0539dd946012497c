package staging

import (
	"context"
	"sync"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
)

// MemoryStore хранит подготовленные изменения в памяти процесса.
// Используется, когда Redis не настроен.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) SaveOrderUpdate(_ context.Context, update *models.PendingUpdate) error {
	return s.put(orderKey(update.OrderID), update)
}

func (s *MemoryStore) LoadOrderUpdate(_ context.Context, orderID uuid.UUID) (*models.PendingUpdate, error) {
	return models.DecodePendingUpdate(s.get(orderKey(orderID)))
}

func (s *MemoryStore) ClearOrderUpdate(_ context.Context, orderID uuid.UUID) error {
	s.del(orderKey(orderID))
	return nil
}

func (s *MemoryStore) SaveProjectUpdate(_ context.Context, update *models.ProjectPendingUpdate) error {
	return s.put(projectKey(update.ProjectID), update)
}

func (s *MemoryStore) LoadProjectUpdate(_ context.Context, projectID string) (*models.ProjectPendingUpdate, error) {
	return models.DecodeProjectPendingUpdate(s.get(projectKey(projectID)))
}

func (s *MemoryStore) ClearProjectUpdate(_ context.Context, projectID string) error {
	s.del(projectKey(projectID))
	return nil
}

func (s *MemoryStore) put(key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) get(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

func (s *MemoryStore) del(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}
