// Package staging хранит подготовленные изменения заказов между подтверждением
// клиента и выбором способа возврата.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
)

// DefaultTTL сколько живёт подготовленное изменение на сервере.
const DefaultTTL = 24 * time.Hour

// Store хранилище подготовленных изменений. Отсутствие записи - nil без ошибки,
// повреждённая запись - models.ErrMalformedPendingUpdate.
type Store interface {
	SaveOrderUpdate(ctx context.Context, update *models.PendingUpdate) error
	LoadOrderUpdate(ctx context.Context, orderID uuid.UUID) (*models.PendingUpdate, error)
	ClearOrderUpdate(ctx context.Context, orderID uuid.UUID) error
	SaveProjectUpdate(ctx context.Context, update *models.ProjectPendingUpdate) error
	LoadProjectUpdate(ctx context.Context, projectID string) (*models.ProjectPendingUpdate, error)
	ClearProjectUpdate(ctx context.Context, projectID string) error
}

func orderKey(orderID uuid.UUID) string {
	return "pendingOrderUpdate:" + orderID.String()
}

func projectKey(projectID string) string {
	return "pendingProjectUpdate:" + projectID
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}
