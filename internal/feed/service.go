package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

// URLDetector はフィードURL検出のインターフェース。
type URLDetector interface {
	Detect(ctx context.Context, inputURL string) (string, error)
}

// SourceService は取り込み元フィードの登録と管理を行う。
// 検出 → 重複チェック → 保存の順に処理し、実際のフェッチはワーカーに任せる。
type SourceService struct {
	sources  repository.FeedSourceRepository
	detector URLDetector
	now      func() time.Time
}

// NewSourceService はSourceServiceを生成する。
func NewSourceService(sources repository.FeedSourceRepository, detector URLDetector) *SourceService {
	return &SourceService{
		sources:  sources,
		detector: detector,
		now:      time.Now,
	}
}

// Register は入力URLからフィードを検出し、取り込み元として登録する。
// 取り込んだイベントにはcategoryが設定される。
func (s *SourceService) Register(ctx context.Context, inputURL, category string) (*model.FeedSource, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, model.NewValidationError("category is required")
	}

	feedURL, err := s.detector.Detect(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.sources.FindByFeedURL(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("取り込み元の検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSourceError()
	}

	now := s.now().UTC()
	source := &model.FeedSource{
		ID:       uuid.New().String(),
		FeedURL:  feedURL,
		SiteURL:  siteRoot(strings.TrimSpace(inputURL)),
		Title:    feedURL, // 初回フェッチでチャンネル名に置き換わる
		Category: category,
		// 次のスケジューラ周期で即座にフェッチされる
		FetchStatus: model.FetchStatusActive,
		NextFetchAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sources.Create(ctx, source); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateSourceError()
		}
		return nil, fmt.Errorf("取り込み元の保存に失敗しました: %w", err)
	}

	slog.Info("取り込み元を登録しました",
		slog.String("source_id", source.ID),
		slog.String("feed_url", source.FeedURL),
		slog.String("category", category),
	)
	return source, nil
}

// List は全取り込み元を返す。
func (s *SourceService) List(ctx context.Context) ([]*model.FeedSource, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("取り込み元一覧の取得に失敗しました: %w", err)
	}
	return sources, nil
}

// Delete は取り込み元を削除する。取り込み済みのイベントはカタログに残る。
func (s *SourceService) Delete(ctx context.Context, id string) error {
	if err := s.sources.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewSourceNotFoundError(id)
		}
		return fmt.Errorf("取り込み元の削除に失敗しました: %w", err)
	}
	slog.Info("取り込み元を削除しました", slog.String("source_id", id))
	return nil
}

// Resume は停止中の取り込み元のフェッチを再開する。
// エラー状態をリセットし、次のスケジューラ周期で即座にフェッチされるようにする。
func (s *SourceService) Resume(ctx context.Context, id string) (*model.FeedSource, error) {
	source, err := s.sources.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("取り込み元の取得に失敗しました: %w", err)
	}
	if source == nil {
		return nil, model.NewSourceNotFoundError(id)
	}
	if source.FetchStatus != model.FetchStatusStopped {
		return nil, model.NewFeedNotStoppedError()
	}

	now := s.now().UTC()
	source.FetchStatus = model.FetchStatusActive
	source.ConsecutiveErrors = 0
	source.ErrorMessage = ""
	source.NextFetchAt = now
	source.UpdatedAt = now
	if err := s.sources.UpdateFetchState(ctx, source); err != nil {
		return nil, fmt.Errorf("取り込み元の再開に失敗しました: %w", err)
	}

	slog.Info("取り込み元のフェッチを再開しました", slog.String("source_id", id))
	return source, nil
}

// siteRoot は入力URLのスキームとホストのみを残したURLを返す。
func siteRoot(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
