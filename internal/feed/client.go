package feed

import (
	"encoding/json"
	"sync"
)

// Subscription update actions accepted by the upstream feed.
const (
	ActionAddMarkets    = "add_markets"
	ActionDeleteMarkets = "delete_markets"
)

// command is the upstream WebSocket control envelope.
type command struct {
	ID     int           `json:"id"`
	Cmd    string        `json:"cmd"`
	Params commandParams `json:"params"`
}

type commandParams struct {
	Channels      []string `json:"channels,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
	SIDs          []int    `json:"sids,omitempty"`
	Action        string   `json:"action,omitempty"`
}

// Client layers the upstream control protocol over a WSClient: subscribe,
// unsubscribe, and update_subscription commands, each carrying a
// client-assigned monotonically increasing id.
type Client struct {
	ws *WSClient

	mu    sync.Mutex
	cmdID int
}

// NewClient wraps ws with the command layer.
func NewClient(ws *WSClient) *Client {
	return &Client{ws: ws}
}

// SubscribeOrderbook subscribes to snapshot/delta updates for the given
// markets.
func (c *Client) SubscribeOrderbook(tickers []string) {
	c.send("subscribe", commandParams{
		Channels:      []string{string(ChannelDelta)},
		MarketTickers: tickers,
	})
}

// SubscribeTicker subscribes to ticker summaries. With no tickers the
// subscription covers all markets.
func (c *Client) SubscribeTicker(tickers []string) {
	c.send("subscribe", commandParams{
		Channels:      []string{string(ChannelTicker)},
		MarketTickers: tickers,
	})
}

// SubscribeTrades subscribes to executed-trade updates. With no tickers the
// subscription covers all markets.
func (c *Client) SubscribeTrades(tickers []string) {
	c.send("subscribe", commandParams{
		Channels:      []string{string(ChannelTrade)},
		MarketTickers: tickers,
	})
}

// Unsubscribe cancels the given subscription ids.
func (c *Client) Unsubscribe(sids []int) {
	c.send("unsubscribe", commandParams{SIDs: sids})
}

// UpdateSubscription adds or removes markets on an existing subscription.
// action is ActionAddMarkets or ActionDeleteMarkets.
func (c *Client) UpdateSubscription(sid int, tickers []string, action string) {
	c.send("update_subscription", commandParams{
		SIDs:          []int{sid},
		MarketTickers: tickers,
		Action:        action,
	})
}

func (c *Client) send(cmd string, params commandParams) {
	c.mu.Lock()
	c.cmdID++
	id := c.cmdID
	c.mu.Unlock()

	msg, _ := json.Marshal(command{ID: id, Cmd: cmd, Params: params})
	c.ws.Send(msg)
}
