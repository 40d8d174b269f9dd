package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
	"github.com/hitoshi/eventexplorer/internal/security"
)

// DisplayDateLayout はカタログの日付表示形式。
const DisplayDateLayout = "Jan 2, 2006 • 3:04 PM"

// undatedLabel は日付のないエントリに表示する日付。
const undatedLabel = "TBA"

// Importer はフィードのエントリをカタログイベントとして取り込む。
type Importer struct {
	events    repository.CatalogRepository
	sanitizer security.Sanitizer
	now       func() time.Time
}

// NewImporter はImporterを生成する。
func NewImporter(events repository.CatalogRepository, sanitizer security.Sanitizer) *Importer {
	return &Importer{events: events, sanitizer: sanitizer, now: time.Now}
}

// ImportEntries はエントリを(source, guid)で照合してUPSERTし、新規作成数と更新数を返す。
// guidがないエントリはlink、linkもなければタイトルと日付のハッシュで同一性を判定する。
// タイトルが空のエントリは取り込まない。
func (im *Importer) ImportEntries(ctx context.Context, source *model.FeedSource, entries []model.FeedEntry) (inserted, updated int, err error) {
	now := im.now().UTC()
	location := source.Title
	if location == "" || location == source.FeedURL {
		location = hostLabel(source.SiteURL)
	}

	for _, entry := range entries {
		title := im.sanitizer.PlainText(entry.Title)
		if title == "" {
			continue
		}

		event := &model.CatalogEvent{
			ID:          uuid.New().String(),
			Title:       title,
			Date:        displayDate(entry.PublishedAt),
			ImageURL:    entry.ImageURL,
			Location:    location,
			Category:    source.Category,
			Description: im.sanitizer.Description(entry.Description),
			SourceID:    source.ID,
			GUID:        entryKey(entry, title),
			Link:        entry.Link,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if event.ImageURL == "" {
			event.ImageURL = PlaceholderImage
		}

		created, upsertErr := im.events.UpsertFromSource(ctx, event)
		if upsertErr != nil {
			return inserted, updated, fmt.Errorf("イベントの取り込みに失敗しました: %w", upsertErr)
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}

	slog.Info("フィードのイベントを取り込みました",
		slog.String("source_id", source.ID),
		slog.Int("inserted", inserted),
		slog.Int("updated", updated),
	)
	return inserted, updated, nil
}

func entryKey(entry model.FeedEntry, title string) string {
	if guid := strings.TrimSpace(entry.GUID); guid != "" {
		return guid
	}
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	published := ""
	if entry.PublishedAt != nil {
		published = entry.PublishedAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(title + "|" + published))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func displayDate(t *time.Time) string {
	if t == nil {
		return undatedLabel
	}
	return t.Format(DisplayDateLayout)
}

func hostLabel(siteURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(siteURL, "https://"), "http://")
	return strings.TrimSuffix(s, "/")
}
