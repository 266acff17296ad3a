package replication

// TopicPrefix is prepended to a market ticker to form its replication topic.
const TopicPrefix = "orderbook."

// Record is the externally visible materialized form of a market's order
// book: a full-state snapshot, not a diff. Every record is self-sufficient
// and can be consumed without replaying prior records. The JSON field names
// match the upstream snapshot wire format so consumers can share decoders.
type Record struct {
	MarketTicker string      `json:"market_ticker"`
	Yes          map[int]int `json:"yes"` // price (cents) → quantity
	No           map[int]int `json:"no"`
}

// TopicName returns the deterministic per-market topic for ticker.
func TopicName(ticker string) string {
	return TopicPrefix + ticker
}
