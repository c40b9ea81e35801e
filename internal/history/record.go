package history

import (
	"strings"
	"time"

	"hedgebot/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaskRecord is one finished task.
type TaskRecord struct {
	ID         string          `gorm:"primaryKey;column:id;type:uuid"`
	TaskID     string          `gorm:"column:task_id;type:varchar(64);not null;index"`
	Seq        uint64          `gorm:"column:seq;not null"`
	Market     string          `gorm:"column:market;type:varchar(32);not null;index"`
	Accounts   string          `gorm:"column:accounts;type:text;not null"`
	Worker     int             `gorm:"column:worker;not null"`
	Success    bool            `gorm:"column:success;not null"`
	Cancelled  bool            `gorm:"column:cancelled;not null"`
	Opened     int             `gorm:"column:opened;not null"`
	Closed     int             `gorm:"column:closed;not null"`
	Attempts   int             `gorm:"column:attempts;not null"`
	Via        string          `gorm:"column:via;type:varchar(32)"`
	Notional   decimal.Decimal `gorm:"column:notional;type:numeric(36,18);not null"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:numeric(36,18);not null"`
	DurationMs int64           `gorm:"column:duration_ms;not null"`
	Err        string          `gorm:"column:err;type:text"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
	FinishedAt time.Time       `gorm:"column:finished_at;not null;index"`
}

func (TaskRecord) TableName() string { return "tasks" }

// OrderRecord is one order placement attempt.
type OrderRecord struct {
	ID       string          `gorm:"primaryKey;column:id;type:uuid"`
	TaskID   string          `gorm:"column:task_id;type:varchar(64);not null;index"`
	Seq      uint64          `gorm:"column:seq;not null"`
	Account  string          `gorm:"column:account;type:varchar(128);not null;index"`
	Market   string          `gorm:"column:market;type:varchar(32);not null"`
	OrderID  string          `gorm:"column:order_id;type:varchar(128)"`
	Side     string          `gorm:"column:side;type:varchar(8);not null"`
	Mode     string          `gorm:"column:mode;type:varchar(8);not null"`
	Purpose  string          `gorm:"column:purpose;type:varchar(32);not null"`
	Quantity decimal.Decimal `gorm:"column:quantity;type:numeric(36,18);not null"`
	Price    decimal.Decimal `gorm:"column:price;type:numeric(36,18);not null"`
	Accepted bool            `gorm:"column:accepted;not null"`
	Err      string          `gorm:"column:err;type:text"`
	PlacedAt time.Time       `gorm:"column:placed_at;not null;index"`
}

func (OrderRecord) TableName() string { return "orders" }

func taskRecord(r model.Result) TaskRecord {
	return TaskRecord{
		ID:         uuid.NewString(),
		TaskID:     r.Task.ID,
		Seq:        r.Seq,
		Market:     r.Task.Market,
		Accounts:   strings.Join(r.Task.Accounts, ","),
		Worker:     r.Worker,
		Success:    r.Success,
		Cancelled:  r.Cancelled,
		Opened:     r.Opened,
		Closed:     r.Closed,
		Attempts:   r.Attempts,
		Via:        r.Via,
		Notional:   r.Notional,
		PnL:        r.PnL,
		DurationMs: r.Duration.Milliseconds(),
		Err:        r.Err,
		CreatedAt:  r.Task.CreatedAt,
		FinishedAt: r.Finished,
	}
}

func orderRecord(e model.OrderEvent) OrderRecord {
	return OrderRecord{
		ID:       uuid.NewString(),
		TaskID:   e.TaskID,
		Seq:      e.Seq,
		Account:  e.Account,
		Market:   e.Market,
		OrderID:  e.OrderID,
		Side:     e.Side.String(),
		Mode:     e.Mode.String(),
		Purpose:  string(e.Purpose),
		Quantity: e.Quantity,
		Price:    e.Price,
		Accepted: e.Accepted,
		Err:      e.Err,
		PlacedAt: e.Placed,
	}
}

// AccountList splits the stored account column.
func (r TaskRecord) AccountList() []string {
	if r.Accounts == "" {
		return nil
	}
	return strings.Split(r.Accounts, ",")
}
