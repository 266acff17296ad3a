package feed

import (
	"encoding/json"
	"fmt"
)

// Channel is the logical message channel of a feed envelope. The set of
// known channels is closed; anything else is handled through an explicit
// unrecognized fallback rather than scattered string matching.
type Channel string

const (
	ChannelSubscribed Channel = "subscribed"
	ChannelTicker     Channel = "ticker"
	ChannelTrade      Channel = "trade"
	ChannelSnapshot   Channel = "orderbook_snapshot"
	ChannelDelta      Channel = "orderbook_delta"
	ChannelError      Channel = "error"
)

// Known reports whether c is one of the channels this service understands.
func (c Channel) Known() bool {
	switch c {
	case ChannelSubscribed, ChannelTicker, ChannelTrade, ChannelSnapshot, ChannelDelta, ChannelError:
		return true
	}
	return false
}

// Envelope is the wire frame delivered by the upstream feed. Seq is a
// pointer so a missing sequence number is distinguishable from zero.
type Envelope struct {
	Type Channel         `json:"type"`
	SID  int             `json:"sid"`
	Seq  *int64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// ParseEnvelope decodes a raw feed frame.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("feed: decode envelope: %w", err)
	}
	return env, nil
}

// SnapshotMsg is the payload of an orderbook_snapshot envelope: a full
// replacement of both sides as [price, quantity] pairs.
type SnapshotMsg struct {
	MarketTicker string   `json:"market_ticker"`
	MarketID     string   `json:"market_id"`
	Yes          [][2]int `json:"yes"`
	No           [][2]int `json:"no"`
}

// DeltaMsg is the payload of an orderbook_delta envelope: a signed quantity
// change to one (side, price) cell.
type DeltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	MarketID     string `json:"market_id"`
	Price        int    `json:"price"`
	Delta        int    `json:"delta"`
	Side         string `json:"side"`
	Ts           string `json:"ts"`
}

// TradeMsg is the payload of a trade envelope. Trades are logged, not
// applied to book state.
type TradeMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"`
	Size         int    `json:"size"`
	Side         string `json:"side"`
	Ts           int64  `json:"ts"`
}

// SubscribedMsg is the payload of a subscription confirmation.
type SubscribedMsg struct {
	Channel string `json:"channel"`
	SID     int    `json:"sid"`
}
