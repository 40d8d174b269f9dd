// Package ticket はチケット種別、料金計算、予約とキャンセルのドメインロジックを提供する。
package ticket

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// serviceFeeRate は小計に対する手数料率。
var serviceFeeRate = decimal.RequireFromString("0.10")

// Type はチケット種別。Availableは在庫ではなく1回の予約で選択できる上限。
type Type struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Description string
	Available   int
}

var types = []Type{
	{
		ID:          "general",
		Name:        "General Admission",
		Price:       decimal.NewFromInt(45),
		Description: "Standard entry to the event",
		Available:   250,
	},
	{
		ID:          "vip",
		Name:        "VIP Access",
		Price:       decimal.NewFromInt(120),
		Description: "Priority entry, premium seating, and complimentary drinks",
		Available:   50,
	},
	{
		ID:          "early-bird",
		Name:        "Early Bird Special",
		Price:       decimal.NewFromInt(35),
		Description: "Limited time offer - 20% off standard price",
		Available:   75,
	},
}

// Types はチケット種別の一覧を返す。
func Types() []Type {
	out := make([]Type, len(types))
	copy(out, types)
	return out
}

// LookupType は指定IDのチケット種別を返す。
func LookupType(id string) (Type, bool) {
	for _, t := range types {
		if t.ID == id {
			return t, true
		}
	}
	return Type{}, false
}

// Selection は1種別あたりの選択枚数。
type Selection struct {
	Type     string
	Quantity int
}

// QuoteLine は見積もりの明細行。
type QuoteLine struct {
	Type      Type
	Quantity  int
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
}

// Quote は料金見積もり。金額はいずれも小数点以下2桁に丸める。
type Quote struct {
	Lines         []QuoteLine
	TotalQuantity int
	Subtotal      decimal.Decimal
	Fee           decimal.Decimal
	Total         decimal.Decimal
}

// NewQuote は選択内容を検証して見積もりを作成する。
// 同一種別の選択は合算し、枚数0の選択は明細に含めない。
func NewQuote(selections []Selection) (*Quote, error) {
	counts := make(map[string]int)
	var order []string
	for _, sel := range selections {
		if sel.Quantity < 0 {
			return nil, model.NewInvalidTicketSelectionError(fmt.Sprintf("quantity must not be negative: %s", sel.Type))
		}
		t, ok := LookupType(sel.Type)
		if !ok {
			return nil, model.NewInvalidTicketSelectionError(fmt.Sprintf("unknown ticket type: %s", sel.Type))
		}
		// 合算前に上限と比較する。counts は常に Available 以下なので減算は溢れない
		if sel.Quantity > t.Available-counts[sel.Type] {
			return nil, model.NewInvalidTicketSelectionError(
				fmt.Sprintf("%s allows at most %d tickets per booking", t.Name, t.Available))
		}
		if _, seen := counts[sel.Type]; !seen {
			order = append(order, sel.Type)
		}
		counts[sel.Type] += sel.Quantity
	}

	q := &Quote{Subtotal: decimal.Zero}
	for _, id := range order {
		qty := counts[id]
		if qty == 0 {
			continue
		}
		t, _ := LookupType(id)
		amount := t.Price.Mul(decimal.NewFromInt(int64(qty)))
		q.Lines = append(q.Lines, QuoteLine{Type: t, Quantity: qty, UnitPrice: t.Price, Amount: amount})
		q.TotalQuantity += qty
		q.Subtotal = q.Subtotal.Add(amount)
	}
	if q.TotalQuantity == 0 {
		return nil, model.NewInvalidTicketSelectionError("no tickets selected")
	}

	q.Subtotal = q.Subtotal.Round(2)
	q.Fee = q.Subtotal.Mul(serviceFeeRate).Round(2)
	q.Total = q.Subtotal.Add(q.Fee)
	return q, nil
}
