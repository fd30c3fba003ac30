package market

import "time"

// Quote is one normalized ticker record as written by the observer and read
// back by ingestion.
type Quote struct {
	Symbol AssetID   `json:"symbol"`
	Bar    Bar       `json:"bar"`
	Time   time.Time `json:"time"`
}
