package staging

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var sqliteMigrations embed.FS

// SQLiteStore хранит подготовленные изменения в локальном файле клиента,
// чтобы они переживали перезапуск.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore открывает файл и применяет миграции.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite staging path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "staging_sqlite"),
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(sqliteMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("staging migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("staging migrations provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run staging migrations: %w", err)
	}
	return nil
}

// Close закрывает файл.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveOrderUpdate(ctx context.Context, update *models.PendingUpdate) error {
	return s.put(ctx, orderKey(update.OrderID), update)
}

func (s *SQLiteStore) LoadOrderUpdate(ctx context.Context, orderID uuid.UUID) (*models.PendingUpdate, error) {
	raw, err := s.get(ctx, orderKey(orderID))
	if err != nil || raw == nil {
		return nil, err
	}
	return models.DecodePendingUpdate(raw)
}

func (s *SQLiteStore) ClearOrderUpdate(ctx context.Context, orderID uuid.UUID) error {
	return s.del(ctx, orderKey(orderID))
}

func (s *SQLiteStore) SaveProjectUpdate(ctx context.Context, update *models.ProjectPendingUpdate) error {
	return s.put(ctx, projectKey(update.ProjectID), update)
}

func (s *SQLiteStore) LoadProjectUpdate(ctx context.Context, projectID string) (*models.ProjectPendingUpdate, error) {
	raw, err := s.get(ctx, projectKey(projectID))
	if err != nil || raw == nil {
		return nil, err
	}
	return models.DecodeProjectPendingUpdate(raw)
}

func (s *SQLiteStore) ClearProjectUpdate(ctx context.Context, projectID string) error {
	return s.del(ctx, projectKey(projectID))
}

// PutRaw записывает значение как есть. Нужна для импорта и тестов.
func (s *SQLiteStore) PutRaw(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staged_updates (key, payload, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, key, payload)
	if err != nil {
		return fmt.Errorf("sqlite put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) put(ctx context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return s.PutRaw(ctx, key, data)
}

func (s *SQLiteStore) get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM staged_updates WHERE key = ?`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return payload, nil
}

func (s *SQLiteStore) del(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staged_updates WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}
