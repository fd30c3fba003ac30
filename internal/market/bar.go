package market

import "strings"

// AssetID identifies one traded instrument, e.g. "BTCUSDT".
type AssetID string

// NormalizeAsset upper-cases and trims a raw symbol.
func NormalizeAsset(raw string) AssetID {
	return AssetID(strings.ToUpper(strings.TrimSpace(raw)))
}

func (a AssetID) String() string { return string(a) }

// Bar is one quote record for an asset at a given step.
type Bar struct {
	Price  float64 `json:"price"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
}

// Fields returns the bar in observation order: price, high, low, volume.
func (b Bar) Fields() [4]float64 {
	return [4]float64{b.Price, b.High, b.Low, b.Volume}
}

func (b Bar) valid() bool {
	return b.Price >= 0 && b.High >= 0 && b.Low >= 0 && b.Volume >= 0
}
