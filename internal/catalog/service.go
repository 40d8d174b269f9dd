// Package catalog は管理者が編集するカタログイベントとカテゴリのドメインロジックを提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
	"github.com/hitoshi/eventexplorer/internal/security"
)

// PlaceholderImage は画像未指定のイベントに使う画像パス。
const PlaceholderImage = "/placeholder.svg"

// EventInput はイベント追加の入力。
type EventInput struct {
	Title       string
	Date        string
	ImageURL    string
	Location    string
	Category    string
	Price       string
	Description string
	Weather     *model.WeatherSnapshot
}

// Service はカタログのサービス層。
type Service struct {
	events     repository.CatalogRepository
	categories repository.CategoryRepository
	sanitizer  security.Sanitizer
	now        func() time.Time

	idMu   sync.Mutex
	lastID int64
}

// NewService はServiceを生成する。
func NewService(
	events repository.CatalogRepository,
	categories repository.CategoryRepository,
	sanitizer security.Sanitizer,
) *Service {
	return &Service{
		events:     events,
		categories: categories,
		sanitizer:  sanitizer,
		now:        time.Now,
	}
}

// InitializeEvents はカタログが空の場合に限り初期イベントとカテゴリを登録する。
// 何度呼び出しても初期イベントが重複することはない。
func (s *Service) InitializeEvents(ctx context.Context) (bool, error) {
	seeded, err := s.events.SeedIfEmpty(ctx, SeedEvents(s.now().UTC()))
	if err != nil {
		return false, fmt.Errorf("failed to seed catalog events: %w", err)
	}
	if _, err := s.categories.SeedIfEmpty(ctx, DefaultCategories); err != nil {
		return false, fmt.Errorf("failed to seed categories: %w", err)
	}
	if seeded {
		slog.Info("カタログに初期イベントを登録しました", slog.Int("categories", len(DefaultCategories)))
	}
	return seeded, nil
}

// ListEvents は絞り込み条件に一致するイベントを返す。
func (s *Service) ListEvents(ctx context.Context, filter model.CatalogFilter) ([]*model.CatalogEvent, error) {
	filter.Category = strings.TrimSpace(filter.Category)
	filter.Keyword = strings.TrimSpace(filter.Keyword)
	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog events: %w", err)
	}
	return events, nil
}

// GetEvent は指定IDのイベントを返す。
func (s *Service) GetEvent(ctx context.Context, id string) (*model.CatalogEvent, error) {
	event, err := s.events.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find catalog event: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(id)
	}
	return event, nil
}

// AddEvent はイベントを追加する。IDは "event-<UNIXミリ秒>" 形式で採番する。
func (s *Service) AddEvent(ctx context.Context, in EventInput) (*model.CatalogEvent, error) {
	event := &model.CatalogEvent{
		Title:       strings.TrimSpace(in.Title),
		Date:        strings.TrimSpace(in.Date),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		Location:    strings.TrimSpace(in.Location),
		Category:    strings.TrimSpace(in.Category),
		Price:       strings.TrimSpace(in.Price),
		Description: s.sanitizer.Description(in.Description),
	}
	if in.Weather != nil {
		w := *in.Weather
		event.Weather = &w
	}
	if err := validateRequired(event.Title, event.Date, event.Location, event.Category); err != nil {
		return nil, err
	}
	if event.ImageURL == "" {
		event.ImageURL = PlaceholderImage
	}

	now := s.now().UTC()
	event.ID = s.nextID(now)
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create catalog event: %w", err)
	}

	slog.Info("カタログイベントを追加しました",
		slog.String("event_id", event.ID),
		slog.String("title", event.Title),
	)
	return event, nil
}

// UpdateEvent はイベントを部分更新し、更新後のレコードを返す。
func (s *Service) UpdateEvent(ctx context.Context, id string, update model.CatalogEventUpdate) (*model.CatalogEvent, error) {
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"title", update.Title},
		{"date", update.Date},
		{"location", update.Location},
		{"category", update.Category},
	} {
		if f.value == nil {
			continue
		}
		trimmed := strings.TrimSpace(*f.value)
		if trimmed == "" {
			return nil, model.NewValidationError(f.name + " must not be empty")
		}
		*f.value = trimmed
	}
	if update.Description != nil {
		sanitized := s.sanitizer.Description(*update.Description)
		update.Description = &sanitized
	}

	event, err := s.events.Update(ctx, id, update, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update catalog event: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(id)
	}

	slog.Info("カタログイベントを更新しました", slog.String("event_id", id))
	return event, nil
}

// DeleteEvent はイベントを削除する。
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	if err := s.events.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewEventNotFoundError(id)
		}
		return fmt.Errorf("failed to delete catalog event: %w", err)
	}
	slog.Info("カタログイベントを削除しました", slog.String("event_id", id))
	return nil
}

// ListCategories はカテゴリ一覧を返す。
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	names, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return names, nil
}

// AddCategory はカテゴリを追加し、更新後の一覧を返す。
func (s *Service) AddCategory(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("category name is required")
	}
	if err := s.categories.Add(ctx, name); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewCategoryExistsError(name)
		}
		return nil, fmt.Errorf("failed to add category: %w", err)
	}
	return s.ListCategories(ctx)
}

// DeleteCategory はカテゴリを削除し、更新後の一覧を返す。
// カテゴリを使用中のイベントはそのまま残る。
func (s *Service) DeleteCategory(ctx context.Context, name string) ([]string, error) {
	if err := s.categories.Delete(ctx, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewCategoryNotFoundError(name)
		}
		return nil, fmt.Errorf("failed to delete category: %w", err)
	}
	return s.ListCategories(ctx)
}

// nextID は単調増加するミリ秒IDを返す。同一ミリ秒内の連続追加でも衝突しない。
func (s *Service) nextID(now time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	ms := now.UnixMilli()
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	s.lastID = ms
	return "event-" + strconv.FormatInt(ms, 10)
}

func validateRequired(title, date, location, category string) error {
	var missing []string
	if title == "" {
		missing = append(missing, "title")
	}
	if date == "" {
		missing = append(missing, "date")
	}
	if location == "" {
		missing = append(missing, "location")
	}
	if category == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return model.NewValidationError(strings.Join(missing, ", ") + " required")
	}
	return nil
}
