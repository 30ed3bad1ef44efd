package market

import (
	"fmt"
	"strings"
)

// Side is the direction of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts BUY/SELL (any case) and the long/short aliases.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return Buy, nil
	case "SELL", "SHORT":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}
