package services

import (
	"errors"
	"fmt"

	"github.com/agamariel/printdesk/internal/models"
)

var (
	// ErrStalePendingUpdate подготовленное изменение отсутствует или заменено более новым.
	ErrStalePendingUpdate = errors.New("pending update is missing or superseded")
	ErrProjectNotFound    = fmt.Errorf("project %w", models.ErrNotFound)
	ErrForbidden          = errors.New("access denied")
	// ErrExternalServiceUnavailable внешний сервис (платёжный шлюз) не выполнил запрос.
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
	ErrInvalidRequest             = errors.New("invalid request")
	ErrConversationClosed         = errors.New("conversation is closed")
)

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
