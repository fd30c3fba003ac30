package tradeenv

import (
	"errors"
	"fmt"

	"qtrader/internal/market"
)

var (
	// ErrEmptyDataset aliases the market sentinel so callers can match
	// either package.
	ErrEmptyDataset  = market.ErrEmptyDataset
	ErrInvalidAction = errors.New("invalid action")
	ErrActionCount   = errors.New("action vector length does not match asset count")
)

// InvalidActionError reports an action code outside {Hold, Buy, Sell}.
type InvalidActionError struct {
	Asset market.AssetID
	Code  Action
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %d for asset %s", int(e.Code), e.Asset)
}

func (e *InvalidActionError) Unwrap() error { return ErrInvalidAction }
