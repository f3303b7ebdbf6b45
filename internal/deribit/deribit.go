// Package deribit holds the domain helpers of the trade classifier: order
// book snapshots, trade side classification and channel subscriptions for
// Deribit's JSON-RPC WebSocket API.
package deribit

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// URL is Deribit's public WebSocket endpoint.
const URL = "wss://www.deribit.com/ws/api/v2"

// Subscription request ids. Responses echo them back.
const (
	BookRequestID   = 1
	TradesRequestID = 2
)

// BookChannel is the 100ms order book channel of an instrument.
func BookChannel(instrument string) string {
	return "book." + instrument + ".100ms"
}

// TradesChannel is the 100ms trades channel of an instrument.
func TradesChannel(instrument string) string {
	return "trades." + instrument + ".100ms"
}

type subscribeRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channels []string `json:"channels"`
}

// SubscribeMessage builds a public/subscribe request.
func SubscribeMessage(id int, channels ...string) string {
	data, err := json.Marshal(subscribeRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "public/subscribe",
		Params:  subscribeParams{Channels: channels},
	})
	if err != nil {
		// Only strings and ints; cannot fail.
		panic(fmt.Sprintf("deribit: marshal subscribe request: %v", err))
	}
	return string(data)
}

// Snapshot is the latest known top of book.
type Snapshot struct {
	BestBid float64 `json:"best_bid,omitempty"`
	HasBid  bool    `json:"-"`
	BestAsk float64 `json:"best_ask,omitempty"`
	HasAsk  bool    `json:"-"`
}

// ApplyBook folds one order book notification into s.
//
// The best bid comes from data.best_bid_price, or else the first entry of
// data.bids; the best ask likewise. Sides a message does not mention keep
// their previous value, and messages that are not notifications leave s
// unchanged.
func ApplyBook(s Snapshot, msg string) Snapshot {
	if !gjson.Valid(msg) {
		return s
	}
	data := gjson.Get(msg, "params.data")
	if !data.Exists() {
		return s
	}

	if bid, ok := bestPrice(data, "best_bid_price", "bids"); ok {
		s.BestBid, s.HasBid = bid, true
	}
	if ask, ok := bestPrice(data, "best_ask_price", "asks"); ok {
		s.BestAsk, s.HasAsk = ask, true
	}
	return s
}

func bestPrice(data gjson.Result, field, levels string) (float64, bool) {
	if v := data.Get(field); v.Type == gjson.Number {
		return v.Float(), true
	}
	first := data.Get(levels + ".0")
	if !first.Exists() {
		return 0, false
	}
	return levelPrice(first)
}

// levelPrice reads a price from one book level. Levels are [price, amount],
// {"price": ...}, or the incremental form [action, price, amount], where a
// "delete" action carries no usable price.
func levelPrice(level gjson.Result) (float64, bool) {
	if level.IsObject() {
		if p := level.Get("price"); p.Type == gjson.Number {
			return p.Float(), true
		}
		return 0, false
	}
	if !level.IsArray() {
		return 0, false
	}

	head := level.Get("0")
	switch head.Type {
	case gjson.Number:
		return head.Float(), true
	case gjson.String:
		if head.Str == "delete" {
			return 0, false
		}
		if p := level.Get("1"); p.Type == gjson.Number {
			return p.Float(), true
		}
	}
	return 0, false
}

// Side is the inferred aggressor side of a trade.
type Side string

const (
	Buy     Side = "BUY"
	Sell    Side = "SELL"
	Unknown Side = "UNKNOWN"
)

// Classify infers a trade's side from the book: at or above the best ask is
// a BUY, at or below the best bid is a SELL, anything else is UNKNOWN. The
// ask is checked first, so a crossed book classifies as BUY.
func Classify(price float64, s Snapshot) Side {
	if s.HasAsk && price >= s.BestAsk {
		return Buy
	}
	if s.HasBid && price <= s.BestBid {
		return Sell
	}
	return Unknown
}

// Trade is one classified trade.
type Trade struct {
	ID         string  `json:"trade_id,omitempty"`
	Instrument string  `json:"instrument_name,omitempty"`
	Price      float64 `json:"price"`
	Amount     float64 `json:"amount"`
	Direction  string  `json:"direction"`
	Timestamp  int64   `json:"timestamp,omitempty"`
	Side       Side    `json:"side"`
}

// ClassifyTrades classifies every trade of a trades notification against s.
// Entries without a numeric price are skipped; a missing amount is 0 and a
// missing direction is "unknown".
func ClassifyTrades(msg string, s Snapshot) []Trade {
	if !gjson.Valid(msg) {
		return nil
	}
	data := gjson.Get(msg, "params.data")
	if !data.IsArray() {
		return nil
	}

	var trades []Trade
	data.ForEach(func(_, entry gjson.Result) bool {
		price := entry.Get("price")
		if price.Type != gjson.Number {
			return true
		}
		direction := "unknown"
		if d := entry.Get("direction"); d.Type == gjson.String {
			direction = d.Str
		}
		trades = append(trades, Trade{
			ID:         tradeID(entry.Get("trade_id")),
			Instrument: entry.Get("instrument_name").Str,
			Price:      price.Float(),
			Amount:     entry.Get("amount").Float(),
			Direction:  direction,
			Timestamp:  entry.Get("timestamp").Int(),
			Side:       Classify(price.Float(), s),
		})
		return true
	})
	return trades
}

func tradeID(v gjson.Result) string {
	if v.Type == gjson.Number {
		return strconv.FormatInt(v.Int(), 10)
	}
	return v.Str
}

// String renders a trade as a log line.
func (t Trade) String() string {
	return fmt.Sprintf("[%s] Trade price: %.2f, amount: %.4f, direction: %s, classified side: %s",
		t.Instrument, t.Price, t.Amount, t.Direction, t.Side)
}
