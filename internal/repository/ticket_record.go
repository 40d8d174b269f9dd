package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// ticketRecord はユーザーに埋め込むチケットの保存形式。
// PostgreSQLではJSONB、MongoDBではサブドキュメントとして保存する。
// 単価は精度を保つため文字列で保持する。
type ticketRecord struct {
	ID          string    `json:"id" bson:"id"`
	EventRef    string    `json:"eventRef" bson:"eventRef"`
	EventName   string    `json:"eventName" bson:"eventName"`
	EventDate   string    `json:"eventDate" bson:"eventDate"`
	Location    string    `json:"location" bson:"location"`
	TicketType  string    `json:"ticketType" bson:"ticketType"`
	Quantity    int       `json:"quantity" bson:"quantity"`
	UnitPrice   string    `json:"unitPrice" bson:"unitPrice"`
	Status      string    `json:"status" bson:"status"`
	PurchasedAt time.Time `json:"purchasedAt" bson:"purchasedAt"`
}

func toTicketRecords(tickets []model.Ticket) []ticketRecord {
	records := make([]ticketRecord, 0, len(tickets))
	for _, t := range tickets {
		records = append(records, ticketRecord{
			ID:          t.ID,
			EventRef:    t.EventRef,
			EventName:   t.EventName,
			EventDate:   t.EventDate,
			Location:    t.Location,
			TicketType:  t.TicketType,
			Quantity:    t.Quantity,
			UnitPrice:   t.UnitPrice.StringFixed(2),
			Status:      string(t.Status),
			PurchasedAt: t.PurchasedAt,
		})
	}
	return records
}

func fromTicketRecords(records []ticketRecord) ([]model.Ticket, error) {
	tickets := make([]model.Ticket, 0, len(records))
	for _, r := range records {
		price, err := decimal.NewFromString(r.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid ticket price %q: %w", r.UnitPrice, err)
		}
		tickets = append(tickets, model.Ticket{
			ID:          r.ID,
			EventRef:    r.EventRef,
			EventName:   r.EventName,
			EventDate:   r.EventDate,
			Location:    r.Location,
			TicketType:  r.TicketType,
			Quantity:    r.Quantity,
			UnitPrice:   price,
			Status:      model.TicketStatus(r.Status),
			PurchasedAt: r.PurchasedAt,
		})
	}
	return tickets, nil
}

// applyTicketStatus はチケット一覧の該当チケットの状態を変更する。
// requireCurrentが空でなく現在の状態と一致しない場合はErrTicketStatusConflictを返す。
func applyTicketStatus(tickets []model.Ticket, ticketID string, status, requireCurrent model.TicketStatus) error {
	for i := range tickets {
		if tickets[i].ID != ticketID {
			continue
		}
		if requireCurrent != "" && tickets[i].Status != requireCurrent {
			return ErrTicketStatusConflict
		}
		tickets[i].Status = status
		return nil
	}
	return ErrTicketNotFound
}

// removeTicket はチケット一覧から該当チケットを除いた一覧を返す。
func removeTicket(tickets []model.Ticket, ticketID string) ([]model.Ticket, error) {
	for i := range tickets {
		if tickets[i].ID == ticketID {
			return append(tickets[:i:i], tickets[i+1:]...), nil
		}
	}
	return nil, ErrTicketNotFound
}
