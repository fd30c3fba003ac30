package market

import "context"

// TickerEvent is a rolling 24h ticker update pushed by an exchange stream.
type TickerEvent struct {
	Symbol    AssetID
	Price     string
	High      string
	Low       string
	Volume    string
	EventTime int64
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// TickerSource streams ticker events until ctx is cancelled or Close is called.
type TickerSource interface {
	SubscribeTickers(ctx context.Context, symbols []AssetID, opts SubscribeOptions) (<-chan TickerEvent, error)

	Stats() SourceStats

	Close() error
}
