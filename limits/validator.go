package limits

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/internal/metrics"
	"github.com/rustyeddy/riskengine/market"
)

const (
	DefaultTTL = 5 * time.Minute

	// DistanceBuffer pushes an adjusted distance this fraction past the
	// violated distance rule.
	DistanceBuffer = 0.05
	// BoundBuffer pulls an adjusted level this fraction inside a violated
	// absolute bound.
	BoundBuffer = 0.001
)

// Querier is the part of a broker the validator reads.
type Querier interface {
	InstrumentRules(ctx context.Context, instrument string) (broker.Rules, error)
	LatestQuote(ctx context.Context, instrument string) (market.Tick, error)
}

// Update carries absolute bounds to force into the cache.
type Update struct {
	StopLoss   Bounds
	TakeProfit Bounds
	Size       Bounds
}

type entry struct {
	limits  Limits
	expires time.Time
}

type Validator struct {
	q   Querier
	ttl time.Duration
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	cache   map[string]entry
	learned map[string]Update
}

type Option func(*Validator)

func WithTTL(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.ttl = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

func NewValidator(q Querier, opts ...Option) *Validator {
	v := &Validator{
		q:       q,
		ttl:     DefaultTTL,
		now:     time.Now,
		cache:   make(map[string]entry),
		learned: make(map[string]Update),
	}
	for _, o := range opts {
		o(v)
	}
	v.log = logging.OrDefault(v.log)
	return v
}

// Limits returns the cached constraints for instrument, refreshing them from
// the broker when missing or older than the TTL. When the broker cannot
// supply dealing rules the asset class defaults are used.
func (v *Validator) Limits(ctx context.Context, instrument string) Limits {
	now := v.now()

	v.mu.Lock()
	if e, ok := v.cache[instrument]; ok && now.Before(e.expires) {
		v.mu.Unlock()
		metrics.LimitCache.WithLabelValues("hit").Inc()
		return e.limits
	}
	v.mu.Unlock()
	metrics.LimitCache.WithLabelValues("miss").Inc()

	l := v.fetch(ctx, instrument)
	l.FetchedAt = now

	v.mu.Lock()
	defer v.mu.Unlock()
	l = applyUpdate(l, v.learned[instrument])
	v.cache[instrument] = entry{limits: l, expires: now.Add(v.ttl)}
	return l
}

func (v *Validator) fetch(ctx context.Context, instrument string) Limits {
	var price float64
	tick, qerr := v.q.LatestQuote(ctx, instrument)
	if qerr == nil {
		price = tick.Mid()
	}

	rules, rerr := v.q.InstrumentRules(ctx, instrument)
	if rerr != nil {
		metrics.LimitCache.WithLabelValues("default").Inc()
		v.log.Warn("broker limits unavailable, using defaults",
			"instrument", instrument, "class", market.ClassOf(instrument), "err", rerr)
		return defaultLimits(instrument, price)
	}
	if qerr != nil {
		v.log.Warn("latest quote unavailable", "instrument", instrument, "err", qerr)
	}
	if rules.Instrument == "" {
		rules.Instrument = instrument
	}
	return fromRules(rules, price)
}

// ForceUpdateCache installs absolute bounds for instrument immediately. They
// persist across later refreshes until overridden.
func (v *Validator) ForceUpdateCache(instrument string, u Update) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := v.learned[instrument]
	prev.StopLoss = prev.StopLoss.merge(u.StopLoss)
	prev.TakeProfit = prev.TakeProfit.merge(u.TakeProfit)
	prev.Size = prev.Size.merge(u.Size)
	v.learned[instrument] = prev

	if e, ok := v.cache[instrument]; ok {
		e.limits = applyUpdate(e.limits, prev)
		v.cache[instrument] = e
	}
	metrics.LimitCache.WithLabelValues("forced").Inc()
	v.log.Info("broker limits updated from rejection", "instrument", instrument,
		"stop_loss", prev.StopLoss, "take_profit", prev.TakeProfit, "size", prev.Size)
}

// LearnFromRejection parses a broker rejection and, when it names a limit,
// forces it into the cache. It reports whether anything was learned.
func (v *Validator) LearnFromRejection(instrument string, err error) bool {
	if err == nil {
		return false
	}
	r, ok := ParseRejection(rejectionText(err))
	if !ok {
		return false
	}
	v.ForceUpdateCache(instrument, r.Update())
	return true
}

// Invalidate drops the cached entry, keeping learned bounds.
func (v *Validator) Invalidate(instrument string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, instrument)
}

func applyUpdate(l Limits, u Update) Limits {
	l.StopLoss = l.StopLoss.merge(u.StopLoss)
	l.TakeProfit = l.TakeProfit.merge(u.TakeProfit)
	l.Size = l.Size.merge(u.Size)
	return l
}

// Order is the proposal to validate.
type Order struct {
	Instrument string
	Side       market.Side
	Size       float64
	EntryPrice float64 // 0 means the current price
	StopLoss   float64 // 0 means none
	TakeProfit float64 // 0 means none
}

type Adjustment struct {
	Field string
	From  float64
	To    float64
}

type Result struct {
	IsValid     bool
	Order       Order // with adjustments applied
	Adjustments []Adjustment
	Warnings    []string
	Errors      []string
	Limits      Limits
}

func (r *Result) adjust(field string, from, to float64, why string) {
	r.Adjustments = append(r.Adjustments, Adjustment{Field: field, From: from, To: to})
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s adjusted from %g to %g: %s", field, from, to, why))
	metrics.LimitAdjustments.WithLabelValues(field).Inc()
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate checks o against the instrument's limits. Correctable violations
// are fixed and reported as adjustments; the rest are errors.
func (v *Validator) Validate(ctx context.Context, o Order) Result {
	res := Result{Order: o}
	if o.Instrument == "" {
		res.fail("instrument is required")
		return res
	}
	if !o.Side.Valid() {
		res.fail("invalid side %q", o.Side)
		return res
	}

	l := v.Limits(ctx, o.Instrument)
	res.Limits = l

	entry := o.EntryPrice
	if entry <= 0 {
		entry = l.CurrentPrice
	}
	if entry <= 0 {
		res.fail("no entry price and no current price for %s", o.Instrument)
		return res
	}
	if l.Source == FromDefaults && l.CurrentPrice <= 0 {
		l.priceDefaults(entry)
		res.Limits = l
	}

	res.Order.Size = v.checkSize(&res, l, o.Size)

	if o.StopLoss != 0 {
		c := levelCheck{
			field: "stop_loss",
			dir:   -o.Side.Sign(),
			minD:  l.MinStopDistance,
			maxD:  l.MaxStopDistance,
			abs:   l.StopLoss,
		}
		res.Order.StopLoss = c.run(&res, entry, o.StopLoss, l.DecimalPlaces)
	}
	if o.TakeProfit != 0 {
		c := levelCheck{
			field: "take_profit",
			dir:   o.Side.Sign(),
			minD:  l.MinTakeProfitDistance,
			maxD:  l.MaxTakeProfitDistance,
			abs:   l.TakeProfit,
		}
		res.Order.TakeProfit = c.run(&res, entry, o.TakeProfit, l.DecimalPlaces)
	}

	res.IsValid = len(res.Errors) == 0
	if !res.IsValid {
		v.log.Debug("order failed limit validation", "instrument", o.Instrument, "errors", res.Errors)
	}
	return res
}

func (v *Validator) checkSize(res *Result, l Limits, size float64) float64 {
	if size <= 0 || math.IsNaN(size) {
		res.fail("size must be positive")
		return size
	}

	lo := math.Max(l.MinSize, l.Size.Min)
	hi := l.MaxSize
	if l.Size.Max > 0 && (hi <= 0 || l.Size.Max < hi) {
		hi = l.Size.Max
	}

	if hi > 0 && size > hi {
		res.fail("size %g exceeds maximum %g", size, hi)
		return size
	}
	if lo > 0 && size < lo {
		res.adjust("size", size, lo, "below broker minimum")
		return lo
	}
	return size
}

// levelCheck places a protective level at entry + dir*d and keeps d inside
// every distance and absolute constraint, the narrowest winning.
type levelCheck struct {
	field string
	dir   float64
	minD  float64
	maxD  float64
	abs   Bounds
}

type bound struct{ raw, target float64 }

func (c levelCheck) run(res *Result, entry, level float64, places int) float64 {
	d := (level - entry) * c.dir
	if d <= 0 {
		res.fail("%s %g is on the wrong side of entry %g", c.field, level, entry)
		return level
	}

	var lows, highs []bound
	if c.minD > 0 {
		lows = append(lows, bound{c.minD, c.minD * (1 + DistanceBuffer)})
	}
	if c.maxD > 0 {
		highs = append(highs, bound{c.maxD, c.maxD * (1 - DistanceBuffer)})
	}
	if m := c.abs.Max; m > 0 {
		b := bound{(m - entry) * c.dir, (m*(1-BoundBuffer) - entry) * c.dir}
		if c.dir > 0 {
			highs = append(highs, b)
		} else {
			lows = append(lows, b)
		}
	}
	if m := c.abs.Min; m > 0 {
		b := bound{(m - entry) * c.dir, (m*(1+BoundBuffer) - entry) * c.dir}
		if c.dir > 0 {
			lows = append(lows, b)
		} else {
			highs = append(highs, b)
		}
	}

	lo := bound{raw: math.Inf(-1), target: math.Inf(-1)}
	for _, b := range lows {
		lo.raw = math.Max(lo.raw, b.raw)
		lo.target = math.Max(lo.target, b.target)
	}
	hi := bound{raw: math.Inf(1), target: math.Inf(1)}
	for _, b := range highs {
		hi.raw = math.Min(hi.raw, b.raw)
		hi.target = math.Min(hi.target, b.target)
	}

	if lo.raw > hi.raw {
		res.fail("no legal %s: broker constraints conflict around entry %g", c.field, entry)
		return level
	}

	adjusted := d
	why := ""
	switch {
	case d < lo.raw:
		adjusted, why = math.Min(lo.target, hi.raw), "too close to entry or past a broker bound"
	case d > hi.raw:
		adjusted, why = math.Max(hi.target, lo.raw), "too far from entry or past a broker bound"
	default:
		return level
	}
	if adjusted <= 0 {
		res.fail("no legal %s on the %s side of entry %g", c.field, sideWord(c.dir), entry)
		return level
	}

	out := roundPrice(entry+c.dir*adjusted, places)
	if nd := (out - entry) * c.dir; nd <= 0 || nd < lo.raw || nd > hi.raw {
		// rounding pushed it back out; keep the unrounded value
		out = entry + c.dir*adjusted
	}
	res.adjust(c.field, level, out, why)
	return out
}

func sideWord(dir float64) string {
	if dir > 0 {
		return "upper"
	}
	return "lower"
}

func roundPrice(v float64, places int) float64 {
	if places <= 0 {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(int32(places)).Float64()
	return f
}
