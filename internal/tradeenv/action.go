package tradeenv

import "fmt"

// Action is a per-asset trade decision.
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

// NumActions is the size of the per-asset action space.
const NumActions = 3

func (a Action) Valid() bool { return a >= Hold && a <= Sell }

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}
