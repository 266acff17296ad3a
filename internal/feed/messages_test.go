package feed

import (
	"encoding/json"
	"testing"
)

func TestParseEnvelope_Snapshot(t *testing.T) {
	raw := []byte(`{
		"type": "orderbook_snapshot",
		"sid": 2,
		"seq": 17,
		"msg": {
			"market_ticker": "KXHIGHNY-24NOV05-B71.5",
			"yes": [[40, 10], [35, 5]],
			"no": [[55, 20]]
		}
	}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Type != ChannelSnapshot {
		t.Fatalf("expected orderbook_snapshot, got %q", env.Type)
	}
	if env.Seq == nil || *env.Seq != 17 {
		t.Fatalf("expected seq 17, got %v", env.Seq)
	}

	var msg SnapshotMsg
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.MarketTicker != "KXHIGHNY-24NOV05-B71.5" {
		t.Fatalf("unexpected ticker %q", msg.MarketTicker)
	}
	if len(msg.Yes) != 2 || msg.Yes[0] != [2]int{40, 10} {
		t.Fatalf("unexpected yes levels %v", msg.Yes)
	}
}

func TestParseEnvelope_Delta(t *testing.T) {
	raw := []byte(`{
		"type": "orderbook_delta",
		"sid": 2,
		"seq": 18,
		"msg": {"market_ticker": "MKT-A", "price": 40, "delta": -10, "side": "yes"}
	}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}

	var msg DeltaMsg
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Price != 40 || msg.Delta != -10 || msg.Side != "yes" {
		t.Fatalf("unexpected delta %+v", msg)
	}
}

func TestParseEnvelope_MissingSeq(t *testing.T) {
	raw := []byte(`{"type": "subscribed", "msg": {"channel": "orderbook_delta", "sid": 1}}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Seq != nil {
		t.Fatalf("absent seq must decode as nil, got %v", env.Seq)
	}
	if env.Type != ChannelSubscribed {
		t.Fatalf("unexpected channel %q", env.Type)
	}
}

func TestParseEnvelope_Garbage(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestChannel_Known(t *testing.T) {
	for _, c := range []Channel{ChannelSubscribed, ChannelTicker, ChannelTrade, ChannelSnapshot, ChannelDelta, ChannelError} {
		if !c.Known() {
			t.Fatalf("%q should be known", c)
		}
	}
	if Channel("market_lifecycle").Known() {
		t.Fatal("market_lifecycle is not a handled channel")
	}
}
