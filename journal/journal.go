// Package journal persists order and bracket state changes. Records are
// written through on every transition so a restarted engine can restore
// what was still open.
package journal

import (
	"errors"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/orders"
)

type Journal interface {
	RecordOrder(orders.Order) error
	RecordBracket(bracket.Bracket) error
	Close() error
}

var (
	_ orders.Recorder  = Journal(nil)
	_ bracket.Recorder = Journal(nil)
)

// Tee writes every record to all of js, returning the joined errors.
func Tee(js ...Journal) Journal { return tee(js) }

type tee []Journal

func (t tee) RecordOrder(o orders.Order) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordOrder(o))
	}
	return errors.Join(errs...)
}

func (t tee) RecordBracket(b bracket.Bracket) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordBracket(b))
	}
	return errors.Join(errs...)
}

func (t tee) Close() error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
