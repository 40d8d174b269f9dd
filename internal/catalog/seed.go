package catalog

import (
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// DefaultCategories は初期カテゴリ。
var DefaultCategories = []string{"Concert", "Sports", "Arts & Theatre", "Food", "Comedy", "Family"}

const unsplashParams = "?ixlib=rb-4.0.3&ixid=M3wxMjA3fDB8MHxwaG90by1wYWdlfHx8fGVufDB8fHx8fA%3D%3D&auto=format&fit=crop"

// SeedEvents はデモ用の初期イベント6件を返す。IDは固定で、重複登録の判定にも使う。
func SeedEvents(now time.Time) []*model.CatalogEvent {
	seeds := []model.CatalogEvent{
		{
			ID:       "1",
			Title:    "Summer Music Festival",
			Date:     "Aug 15, 2023 • 4:00 PM",
			ImageURL: "https://images.unsplash.com/photo-1470229722913-7c0e2dbbafd3" + unsplashParams + "&w=1170&q=80",
			Location: "Riverfront Park, New York",
			Category: "Concert",
			Price:    "$45 - $120",
			Weather:  &model.WeatherSnapshot{Temp: "72°F", Condition: "Sunny"},
		},
		{
			ID:       "2",
			Title:    "NBA Finals Game 5",
			Date:     "Jun 12, 2023 • 7:30 PM",
			ImageURL: "https://images.unsplash.com/photo-1504450758481-7338eba7524a" + unsplashParams + "&w=1169&q=80",
			Location: "Madison Square Garden, New York",
			Category: "Sports",
			Price:    "$75 - $350",
			Weather:  &model.WeatherSnapshot{Temp: "68°F", Condition: "Clear"},
		},
		{
			ID:       "3",
			Title:    "Hamilton - Broadway Musical",
			Date:     "Jul 22, 2023 • 8:00 PM",
			ImageURL: "https://images.unsplash.com/photo-1503095396549-807759245b35" + unsplashParams + "&w=1171&q=80",
			Location: "Richard Rodgers Theatre, New York",
			Category: "Arts & Theatre",
			Price:    "$99 - $299",
			Weather:  &model.WeatherSnapshot{Temp: "75°F", Condition: "Partly Cloudy"},
		},
		{
			ID:       "4",
			Title:    "Food & Wine Festival",
			Date:     "Sep 5, 2023 • 11:00 AM",
			ImageURL: "https://images.unsplash.com/photo-1555244162-803834f70033" + unsplashParams + "&w=1170&q=80",
			Location: "Hudson Yards, New York",
			Category: "Food",
			Price:    "$35",
			Weather:  &model.WeatherSnapshot{Temp: "78°F", Condition: "Sunny"},
		},
		{
			ID:       "5",
			Title:    "Stand-up Comedy Night",
			Date:     "Aug 25, 2023 • 9:00 PM",
			ImageURL: "https://images.unsplash.com/photo-1585211969224-3e992986159d" + unsplashParams + "&w=1171&q=80",
			Location: "Comedy Cellar, New York",
			Category: "Comedy",
			Price:    "$25",
			Weather:  &model.WeatherSnapshot{Temp: "71°F", Condition: "Clear"},
		},
		{
			ID:       "6",
			Title:    "Disney On Ice",
			Date:     "Oct 10, 2023 • 3:00 PM",
			ImageURL: "https://images.unsplash.com/photo-1561089489-f13d5e730d72" + unsplashParams + "&w=1025&q=80",
			Location: "Barclays Center, Brooklyn",
			Category: "Family",
			Price:    "$30 - $85",
			Weather:  &model.WeatherSnapshot{Temp: "65°F", Condition: "Partly Cloudy"},
		},
	}

	events := make([]*model.CatalogEvent, 0, len(seeds))
	for i := range seeds {
		e := seeds[i]
		// 登録順を保つため作成日時を1ミリ秒ずつずらす
		e.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		e.UpdatedAt = e.CreatedAt
		events = append(events, &e)
	}
	return events
}
