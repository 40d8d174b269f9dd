package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

// BookingRecorder は予約枚数を記録するインターフェース。
type BookingRecorder interface {
	RecordTicketsBooked(count int)
}

// EventCounter はカタログイベント数を返すインターフェース。
type EventCounter interface {
	Count(ctx context.Context) (int, error)
}

// BookInput は予約内容。
type BookInput struct {
	EventRef   string
	EventName  string
	EventDate  string
	Location   string
	Selections []Selection
}

// BookResult は予約結果。Userは予約反映後のレコード。
type BookResult struct {
	User    *model.User
	Tickets []model.Ticket
	Quote   *Quote
}

// OwnedTicket は管理画面向けの所有者情報付きチケット。
type OwnedTicket struct {
	model.Ticket
	UserID   string
	UserName string
}

// Stats は管理ダッシュボードの集計値。
type Stats struct {
	Users         int
	CatalogEvents int
	TicketsSold   int
	Revenue       decimal.Decimal
}

// Service はチケット予約のサービス層。
type Service struct {
	userRepo repository.UserRepository
	events   EventCounter
	recorder BookingRecorder
	now      func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(userRepo repository.UserRepository, events EventCounter, recorder BookingRecorder) *Service {
	return &Service{
		userRepo: userRepo,
		events:   events,
		recorder: recorder,
		now:      time.Now,
	}
}

// Book は選択内容を検証し、種別ごとにチケットを作成してユーザーに追加する。
func (s *Service) Book(ctx context.Context, userID string, in BookInput) (*BookResult, error) {
	in.EventRef = strings.TrimSpace(in.EventRef)
	in.EventName = strings.TrimSpace(in.EventName)
	if in.EventRef == "" {
		return nil, model.NewEventIDRequiredError()
	}
	if in.EventName == "" {
		return nil, model.NewValidationError("eventName is required")
	}

	quote, err := NewQuote(in.Selections)
	if err != nil {
		return nil, err
	}

	purchasedAt := s.now().UTC()
	tickets := make([]model.Ticket, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		tickets = append(tickets, model.Ticket{
			ID:          uuid.New().String(),
			EventRef:    in.EventRef,
			EventName:   in.EventName,
			EventDate:   in.EventDate,
			Location:    in.Location,
			TicketType:  line.Type.ID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Status:      model.TicketStatusUpcoming,
			PurchasedAt: purchasedAt,
		})
	}

	user, err := s.userRepo.AppendTickets(ctx, userID, tickets)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("チケットの予約に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordTicketsBooked(quote.TotalQuantity)
	}
	slog.Info("チケットを予約しました",
		slog.String("user_id", userID),
		slog.String("event_ref", in.EventRef),
		slog.Int("quantity", quote.TotalQuantity),
		slog.String("total", quote.Total.StringFixed(2)),
	)

	return &BookResult{User: user, Tickets: tickets, Quote: quote}, nil
}

// ListForUser はユーザーのチケットを購入日時の新しい順で返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Ticket, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	tickets := append([]model.Ticket{}, user.Tickets...)
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].PurchasedAt.After(tickets[j].PurchasedAt)
	})
	return tickets, nil
}

// Cancel は開催前のチケットをキャンセルし、更新後のユーザーを返す。
func (s *Service) Cancel(ctx context.Context, userID, ticketID string) (*model.User, error) {
	user, err := s.userRepo.SetTicketStatus(ctx, userID, ticketID, model.TicketStatusCancelled, model.TicketStatusUpcoming)
	if err != nil {
		if errors.Is(err, repository.ErrTicketStatusConflict) {
			// 現在の状態をエラーメッセージに含める
			current := model.TicketStatus("")
			if u, findErr := s.userRepo.FindByID(ctx, userID); findErr == nil && u != nil {
				if t := u.FindTicket(ticketID); t != nil {
					current = t.Status
				}
			}
			return nil, model.NewTicketNotCancellableError(current)
		}
		return nil, s.mapTicketError(err, ticketID, "チケットのキャンセルに失敗しました")
	}

	slog.Info("チケットをキャンセルしました",
		slog.String("user_id", userID),
		slog.String("ticket_id", ticketID),
	)
	return user, nil
}

// SetStatus は管理者がチケットの状態を任意に変更する。
func (s *Service) SetStatus(ctx context.Context, userID, ticketID string, status model.TicketStatus) (*model.User, error) {
	if !status.Valid() {
		return nil, model.NewValidationError("status must be Upcoming, Completed, Cancelled or Refunded")
	}
	user, err := s.userRepo.SetTicketStatus(ctx, userID, ticketID, status, "")
	if err != nil {
		return nil, s.mapTicketError(err, ticketID, "チケット状態の更新に失敗しました")
	}

	slog.Info("チケット状態を変更しました",
		slog.String("user_id", userID),
		slog.String("ticket_id", ticketID),
		slog.String("status", string(status)),
	)
	return user, nil
}

// Delete は管理者がチケットを削除する。
func (s *Service) Delete(ctx context.Context, userID, ticketID string) (*model.User, error) {
	user, err := s.userRepo.DeleteTicket(ctx, userID, ticketID)
	if err != nil {
		return nil, s.mapTicketError(err, ticketID, "チケットの削除に失敗しました")
	}

	slog.Info("チケットを削除しました",
		slog.String("user_id", userID),
		slog.String("ticket_id", ticketID),
	)
	return user, nil
}

// ListAll は全ユーザーのチケットを購入日時の新しい順で返す。limitが0以下の場合は全件。
func (s *Service) ListAll(ctx context.Context, limit int) ([]OwnedTicket, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}

	var all []OwnedTicket
	for _, u := range users {
		for _, t := range u.Tickets {
			all = append(all, OwnedTicket{Ticket: t, UserID: u.ID, UserName: u.Name})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].PurchasedAt.After(all[j].PurchasedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []OwnedTicket{}
	}
	return all, nil
}

// Stats はユーザー数、カタログイベント数、販売枚数、売上を集計する。
// キャンセル・返金済みのチケットは販売枚数と売上に含めない。
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}

	stats := &Stats{Users: len(users), Revenue: decimal.Zero}
	for _, u := range users {
		for _, t := range u.Tickets {
			if t.Status == model.TicketStatusCancelled || t.Status == model.TicketStatusRefunded {
				continue
			}
			stats.TicketsSold += t.Quantity
			stats.Revenue = stats.Revenue.Add(t.Total())
		}
	}

	if s.events != nil {
		count, err := s.events.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("カタログ件数の取得に失敗しました: %w", err)
		}
		stats.CatalogEvents = count
	}
	return stats, nil
}

func (s *Service) mapTicketError(err error, ticketID, msg string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, repository.ErrTicketNotFound):
		return model.NewTicketNotFoundError(ticketID)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
