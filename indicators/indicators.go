// Package indicators provides the technical analysis building blocks used by
// the snapshot calculator. All functions are pure and operate on candles in
// ascending time order.
package indicators
