// Package id generates time-sortable identifiers for orders and brackets.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic keeps ids minted within the same millisecond ordered.
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// WithPrefix returns a ULID prefixed with p and an underscore, e.g. "ord_01J...".
func WithPrefix(p string) string {
	if p == "" {
		return New()
	}
	return p + "_" + New()
}

// Time extracts the creation time encoded in an id produced by New or
// WithPrefix.
func Time(s string) (time.Time, error) {
	if i := len(s) - ulid.EncodedSize; i > 0 {
		s = s[i:]
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
