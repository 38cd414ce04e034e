// Package settings stores runtime switches edited from the admin panel.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/store"
)

const cacheTTL = time.Minute

var (
	ErrNotFound   = errors.New("setting not found")
	ErrInvalidKey = errors.New("invalid setting key")
)

type Service struct {
	db     interfaces.Database
	cache  *store.Cache
	logger *zap.SugaredLogger
}

func NewService(db interfaces.Database, cache *store.Cache, logger *zap.SugaredLogger) *Service {
	return &Service{db: db, cache: cache, logger: logger}
}

func (s *Service) repo() interfaces.Repository {
	return s.db.Repository(entities.AdminSettingSchema)
}

// Get returns the raw JSON value stored under key.
func (s *Service) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var cached json.RawMessage
	if err := s.cache.Get(ctx, store.SettingKey(key), &cached); err == nil {
		return cached, nil
	}

	row, err := s.repo().GetByID(ctx, interfaces.StringID(key))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	setting, err := entities.Decode[entities.AdminSetting](row)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, store.SettingKey(key), setting.Value, cacheTTL); err != nil {
		s.logger.Warnw("Failed to cache setting", "key", key, "error", err)
	}
	return setting.Value, nil
}

// Bool reads a boolean switch. Missing or malformed values yield def.
func (s *Service) Bool(ctx context.Context, key string, def bool) bool {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warnw("Failed to read setting", "key", key, "error", err)
		}
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// Set stores value under key and drops the cached copy.
func (s *Service) Set(ctx context.Context, key string, value json.RawMessage, updatedBy string) (*entities.AdminSetting, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 100 {
		return nil, ErrInvalidKey
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: value must be JSON", ErrInvalidKey)
	}
	data := map[string]interface{}{"value": value}
	if updatedBy != "" {
		data["updated_by"] = updatedBy
	}
	row, err := s.repo().Upsert(ctx, map[string]interface{}{"key": key}, data)
	if err != nil {
		return nil, fmt.Errorf("set setting %s: %w", key, err)
	}
	if err := s.cache.Delete(ctx, store.SettingKey(key)); err != nil {
		s.logger.Warnw("Failed to invalidate setting", "key", key, "error", err)
	}
	return entities.Decode[entities.AdminSetting](row)
}

func (s *Service) All(ctx context.Context) ([]entities.AdminSetting, error) {
	page, err := s.repo().FindMany(ctx, &interfaces.Query{
		OrderBy: []interfaces.OrderBy{{Field: "key", Direction: "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return entities.DecodeAll[entities.AdminSetting](page.Data)
}
