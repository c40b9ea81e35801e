package feed

import (
	"hedgebot/internal/pricecache"
	"hedgebot/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

const (
	typeSnapshot = "SNAPSHOT"
	typeDelta    = "DELTA"
)

// bookMessage is one order-book frame:
//
//	{"ts":1701563440000,"type":"SNAPSHOT","data":{"m":"BTC-USD","b":[{"p":"25670","q":"0.1"}],"a":[...]},"seq":1}
type bookMessage struct {
	Ts   int64    `json:"ts"`
	Type string   `json:"type"`
	Data bookData `json:"data"`
	Seq  int64    `json:"seq"`
}

type bookData struct {
	Market string      `json:"m"`
	Bids   []bookLevel `json:"b"`
	Asks   []bookLevel `json:"a"`
}

type bookLevel struct {
	Price    decimal.Decimal `json:"p"`
	Quantity decimal.Decimal `json:"q"`
}

func levels(in []bookLevel) []pricecache.Level {
	out := make([]pricecache.Level, len(in))
	for i, l := range in {
		out[i] = pricecache.Level{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

// decode parses a frame and returns the top-of-book levels it carries.
func decode(data []byte) (bookMessage, error) {
	var msg bookMessage
	if err := sonic.ConfigFastest.Unmarshal(data, &msg); err != nil {
		return bookMessage{}, errors.Wrap(err, "unmarshal order book message")
	}
	switch msg.Type {
	case typeSnapshot, typeDelta:
	default:
		return msg, exception.ErrMarketDataUnknownType
	}
	if len(msg.Data.Bids) == 0 || len(msg.Data.Asks) == 0 {
		return msg, exception.ErrMarketDataEmptyBook
	}
	return msg, nil
}
