// Package limits discovers and enforces per-instrument broker constraints on
// order size and protective level placement.
package limits

import (
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
)

// Bounds is an absolute [Min, Max] range. Zero means unset on that side.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) IsZero() bool { return b.Min == 0 && b.Max == 0 }

// merge overlays the set sides of o onto b.
func (b Bounds) merge(o Bounds) Bounds {
	if o.Min != 0 {
		b.Min = o.Min
	}
	if o.Max != 0 {
		b.Max = o.Max
	}
	return b
}

type Source string

const (
	FromBroker   Source = "broker"
	FromDefaults Source = "default"
)

// Limits are the constraints in force for one instrument. Distances are in
// price units.
type Limits struct {
	Instrument            string
	MinStopDistance       float64
	MaxStopDistance       float64
	MinTakeProfitDistance float64
	MaxTakeProfitDistance float64
	MinSize               float64
	MaxSize               float64
	PipValue              float64
	DecimalPlaces         int

	// Absolute bounds learned from broker rejections.
	StopLoss   Bounds
	TakeProfit Bounds
	Size       Bounds

	CurrentPrice float64
	Source       Source
	FetchedAt    time.Time
}

func fromRules(r broker.Rules, price float64) Limits {
	return Limits{
		Instrument:            r.Instrument,
		MinStopDistance:       r.MinStopDistance,
		MaxStopDistance:       r.MaxStopDistance,
		MinTakeProfitDistance: r.MinProfitDistance,
		MaxTakeProfitDistance: r.MaxProfitDistance,
		MinSize:               r.MinSize,
		MaxSize:               r.MaxSize,
		PipValue:              r.PipValue,
		DecimalPlaces:         r.DecimalPlaces,
		CurrentPrice:          price,
		Source:                FromBroker,
	}
}

// Defaults are the static per asset class constraints used when the broker
// cannot be queried. Distances are percentages of price.
type Defaults struct {
	MinDistancePct float64
	MaxDistancePct float64
	MinSize        float64
	MaxSize        float64
	DecimalPlaces  int
}

var classDefaults = map[market.AssetClass]Defaults{
	market.Crypto:    {MinDistancePct: 0.5, MaxDistancePct: 20, MinSize: 0.0001, MaxSize: 100, DecimalPlaces: 2},
	market.Forex:     {MinDistancePct: 0.05, MaxDistancePct: 10, MinSize: 100, MaxSize: 10_000_000, DecimalPlaces: 5},
	market.IndexComm: {MinDistancePct: 0.1, MaxDistancePct: 15, MinSize: 0.1, MaxSize: 1000, DecimalPlaces: 2},
}

// DefaultsFor returns the static constraints for symbol's asset class.
func DefaultsFor(symbol string) Defaults {
	return classDefaults[market.ClassOf(symbol)]
}

func defaultLimits(instrument string, price float64) Limits {
	d := DefaultsFor(instrument)
	l := Limits{
		Instrument:    instrument,
		MinSize:       d.MinSize,
		MaxSize:       d.MaxSize,
		DecimalPlaces: d.DecimalPlaces,
		CurrentPrice:  price,
		Source:        FromDefaults,
	}
	l.priceDefaults(price)
	return l
}

// priceDefaults derives default distances from a reference price.
func (l *Limits) priceDefaults(price float64) {
	d := DefaultsFor(l.Instrument)
	l.MinStopDistance = price * d.MinDistancePct / 100
	l.MaxStopDistance = price * d.MaxDistancePct / 100
	l.MinTakeProfitDistance = l.MinStopDistance
	l.MaxTakeProfitDistance = l.MaxStopDistance
}
