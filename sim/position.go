package sim

import "math"

// Position is the netted exposure in one instrument. Size is signed:
// positive is long.
type Position struct {
	Instrument string
	Size       float64
	AvgPrice   float64
	RealizedPL float64
}

func (p Position) UnrealizedPL(mark float64) float64 {
	return p.Size * (mark - p.AvgPrice)
}

// apply nets a signed fill into the position and returns the profit or
// loss it realized.
func (p *Position) apply(signed, price float64) float64 {
	if p.Size == 0 || math.Signbit(p.Size) == math.Signbit(signed) {
		total := math.Abs(p.Size) + math.Abs(signed)
		p.AvgPrice = (p.AvgPrice*math.Abs(p.Size) + price*math.Abs(signed)) / total
		p.Size += signed
		return 0
	}

	closing := math.Min(math.Abs(p.Size), math.Abs(signed))
	dir := 1.0
	if p.Size < 0 {
		dir = -1
	}
	pl := closing * (price - p.AvgPrice) * dir
	p.RealizedPL += pl

	p.Size += signed
	switch {
	case math.Abs(p.Size) < 1e-12:
		p.Size = 0
		p.AvgPrice = 0
	case math.Signbit(p.Size) == math.Signbit(signed):
		// flipped through zero
		p.AvgPrice = price
	}
	return pl
}
