// Package pricefeed implements the PriceFeedListener (spec §4.E): per-feed
// subscription to aggregator new-round events, decimal/price seeding, and
// sharp-drop detection that schedules jittered emergency scans. Composed
// (derived) feeds fold into the token prices of other feeds rather than ever
// triggering a scan themselves. Answers arrive only through the
// subscription: there is no polling loop, and the poll settings carried in
// Config and FeedConfig are not read by the listener.
package pricefeed

import "github.com/onchainops/liquidator/pkg/domain"

// FeedConfig is one configured aggregator feed (spec §6 CHAINLINK_FEEDS_*).
type FeedConfig struct {
	Feed    domain.Address // the aggregator contract address
	Token   domain.Address // the underlying token this feed ultimately prices
	Symbol  string

	// Derived marks a ratio/composed feed (spec: "LST pairs... never
	// trigger by themselves; they only compose into token prices").
	Derived          bool
	ComposeBaseToken domain.Address // for Derived feeds: the USD-denominated token to multiply the ratio by

	ThresholdBps   int64 // sharp-drop threshold, non-derived only
	CumulativeMode bool
	DebounceSec    int64 // default 60

	PollEnabled bool // false for Derived feeds per spec §4.E
}

// Config bundles every PriceFeedListener-wide knob.
type Config struct {
	Feeds []FeedConfig

	DedupWindowMs     int64 // round_id+feed_addr dedup window, default 10 minutes
	GlobalMinInterval int64 // ms, global min interval between emergency scans
	JitterMinMs       int64 // default 40
	JitterMaxMs       int64 // default 60
	PollIntervalMs    int64 // >= 5000 per spec
	WsHeartbeatMs     int64
}
