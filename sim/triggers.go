package sim

import (
	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
)

// triggered reports whether a working order executes against t and at what
// price. Limits fill at their level; stops fill at the touching side of the
// book.
func triggered(o *Order, t market.Tick) (float64, bool) {
	mark := t.Price(o.Side)
	if mark == 0 {
		return 0, false
	}

	switch o.Kind {
	case broker.Limit:
		if o.Side == market.Buy && mark <= o.Price || o.Side == market.Sell && mark >= o.Price {
			return o.Price, true
		}
	case broker.Stop:
		if o.Side == market.Buy && mark >= o.Price || o.Side == market.Sell && mark <= o.Price {
			return mark, true
		}
	}
	return 0, false
}
